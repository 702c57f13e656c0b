package httpapi

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// DeviceExportHeader 设备清单导出表头
var DeviceExportHeader = []string{
	"Device ID",
	"Alias",
	"Manufacturer",
	"Model",
	"Protocol",
	"Device IP",
	"Device Port",
	"State",
	"Last Updated",
}

var deviceExportKeys = []string{
	"device_id",
	"alias",
	"manufacturer",
	"model",
	"protocol_type",
	"device_ip",
	"device_port",
	"state",
	"last_updated",
}

// GenerateDeviceExport renders a node's device summary as an xlsx
// inventory sheet. An empty summary produces headers only.
func GenerateDeviceExport(rows []map[string]any) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Devices"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	for col, header := range DeviceExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		for col, key := range deviceExportKeys {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			v := row[key]
			if v == nil {
				v = "-"
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
