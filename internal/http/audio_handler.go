package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"edge-console/internal/domain"

	"go.uber.org/zap"
)

// maxAudioUpload caps a single microphone clip upload.
const maxAudioUpload = 64 << 20 // 64 MiB

// AudioHandler persists uploaded microphone captures to disk, one
// directory per device, under the mounted data volume.
type AudioHandler struct {
	baseDir string
	logger  *zap.Logger
}

func NewAudioHandler(baseDir string, logger *zap.Logger) *AudioHandler {
	return &AudioHandler{baseDir: baseDir, logger: logger}
}

func (h *AudioHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid multipart form"})
		return
	}
	deviceID := r.FormValue("device_id")
	if deviceID == "" || deviceID != filepath.Base(deviceID) {
		writeError(w, h.logger, &domain.ValidationError{Field: "device_id", Reason: "must be a plain identifier"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "file", Reason: "missing file part"})
		return
	}
	defer file.Close()

	// Base() strips any path components a client might smuggle in.
	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		writeError(w, h.logger, &domain.ValidationError{Field: "file", Reason: "invalid filename"})
		return
	}

	deviceDir := filepath.Join(h.baseDir, deviceID)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		writeError(w, h.logger, err)
		return
	}
	dst, err := os.Create(filepath.Join(deviceDir, filename))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("audio file saved",
		zap.String("device_id", deviceID),
		zap.String("file", filename),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Upload successful",
		"saved_as":  filename,
		"device_id": deviceID,
	})
}
