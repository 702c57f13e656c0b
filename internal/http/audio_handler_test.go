package httpapi

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func multipartUpload(t *testing.T, deviceID, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("device_id", deviceID))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAudio(t *testing.T) {
	baseDir := t.TempDir()
	h := NewAudioHandler(baseDir, zap.NewNop())

	body, contentType := multipartUpload(t, "mic-01", "clip.wav", []byte("RIFFdata"))
	req := httptest.NewRequest(http.MethodPost, "/api/data_saver/upload_audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.UploadAudio(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	saved, err := os.ReadFile(filepath.Join(baseDir, "mic-01", "clip.wav"))
	require.NoError(t, err)
	require.Equal(t, []byte("RIFFdata"), saved)
}

func TestUploadAudioStripsClientPaths(t *testing.T) {
	baseDir := t.TempDir()
	h := NewAudioHandler(baseDir, zap.NewNop())

	body, contentType := multipartUpload(t, "mic-01", "../../escape.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/data_saver/upload_audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.UploadAudio(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// the file lands inside the device directory, not outside baseDir
	_, err := os.Stat(filepath.Join(baseDir, "mic-01", "escape.wav"))
	require.NoError(t, err)
}

func TestUploadAudioRejectsBadDeviceID(t *testing.T) {
	h := NewAudioHandler(t.TempDir(), zap.NewNop())

	body, contentType := multipartUpload(t, "../mic", "clip.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/data_saver/upload_audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.UploadAudio(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAudioMissingFile(t *testing.T) {
	h := NewAudioHandler(t.TempDir(), zap.NewNop())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("device_id", "mic-01"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/data_saver/upload_audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.UploadAudio(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
