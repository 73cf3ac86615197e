package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/client"
	"github.com/kjstillabower/agro-advisor/internal/observability"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 64 << 10

// PostDisease handles POST /disease: a multipart "file" upload proxied to the
// disease classifier.
func (h *Handler) PostDisease(w http.ResponseWriter, r *http.Request) {
	if h.disease == nil {
		writeError(w, r, http.StatusServiceUnavailable, "DISEASE_UNAVAILABLE", "Disease detection is not configured")
		return
	}
	if r.ContentLength > h.maxUploadBytes+multipartOverhead {
		writeError(w, r, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Image must be at most 5 MB")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Image must be at most 5 MB")
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Missing file field")
		return
	}
	defer file.Close()
	if header.Size > h.maxUploadBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Image must be at most 5 MB")
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "Uploaded file is empty or unreadable")
		return
	}
	head = head[:n]
	if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "image/") {
		writeError(w, r, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Upload must be an image")
		return
	}

	result, err := h.disease.Predict(r.Context(), header.Filename, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("disease prediction failed", zap.Error(err))
		msg := "Disease detection is unavailable. Please try again."
		var svcErr *client.ServiceError
		if errors.As(err, &svcErr) && svcErr.Message != "" {
			msg = svcErr.Message
		}
		writeError(w, r, http.StatusBadGateway, "DISEASE_PREDICTION_FAILED", msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
