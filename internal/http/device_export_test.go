package httpapi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateDeviceExport(t *testing.T) {
	rows := []map[string]any{
		{
			"device_id":     "D1",
			"alias":         "press-sensor",
			"protocol_type": "S7comm",
			"device_ip":     "10.0.0.5",
			"device_port":   int32(102),
			"state":         "ONLINE",
			"last_updated":  "2026-08-20T10:00:00Z",
		},
		{
			"device_id":     "D2",
			"protocol_type": "USB",
			"state":         nil,
			"last_updated":  "-",
		},
	}

	data, err := GenerateDeviceExport(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"Devices"}, f.GetSheetList())

	got, err := f.GetRows("Devices")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, DeviceExportHeader, got[0])

	require.Equal(t, "D1", got[1][0])
	require.Equal(t, "ONLINE", got[1][7])

	// absent fields render as the dash sentinel
	require.Equal(t, "D2", got[2][0])
	require.Equal(t, "-", got[2][1])
	require.Equal(t, "-", got[2][7])
}

func TestGenerateDeviceExportEmpty(t *testing.T) {
	data, err := GenerateDeviceExport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows("Devices")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, DeviceExportHeader, got[0])
}
