package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/platform/uploads"
)

// 10 MiB decoded plus base64 overhead and JSON framing.
const maxUploadBodySize = 15 << 20

var allowedUploadFolders = map[string]struct{}{
	"products": {},
	"profiles": {},
}

// ImageUploader stores image payloads and returns their public location.
type ImageUploader interface {
	Upload(ctx context.Context, dataURL, folder string) (uploads.Image, error)
	Delete(ctx context.Context, publicID string) error
}

// UploadHandlers exposes media upload endpoints for authenticated users.
type UploadHandlers struct {
	authn    *auth.Authenticator
	uploader ImageUploader
}

// NewUploadHandlers constructs a new UploadHandlers instance.
func NewUploadHandlers(authn *auth.Authenticator, uploader ImageUploader) *UploadHandlers {
	return &UploadHandlers{authn: authn, uploader: uploader}
}

// Routes registers the /uploads endpoints.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Post("/", h.upload)
	r.Delete("/*", h.remove)
}

type uploadRequest struct {
	Data   string `json:"data"`
	Folder string `json:"folder"`
}

type uploadResponse struct {
	URL         string `json:"url"`
	PublicID    string `json:"public_id"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (h *UploadHandlers) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploader == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req uploadRequest
	if err := decodeBody(ctx, w, r, maxUploadBodySize, &req); err != nil {
		return
	}

	folder := strings.ToLower(strings.TrimSpace(req.Folder))
	if folder == "" {
		folder = "products"
	}
	if _, ok := allowedUploadFolders[folder]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "folder is not recognised", http.StatusBadRequest))
		return
	}

	image, err := h.uploader.Upload(ctx, req.Data, folder)
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, uploadResponse{
		URL:         image.URL,
		PublicID:    image.PublicID,
		ContentType: image.ContentType,
		Size:        image.Size,
	})
}

func (h *UploadHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploader == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	publicID := strings.Trim(strings.TrimSpace(chi.URLParam(r, "*")), "/")
	if publicID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "public id is required", http.StatusBadRequest))
		return
	}

	if err := h.uploader.Delete(ctx, publicID); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_not_found", "upload not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, uploads.ErrInvalidPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, uploads.ErrUnsupportedType):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", err.Error(), http.StatusUnsupportedMediaType))
	case errors.Is(err, uploads.ErrPayloadTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("upload_error", "failed to store upload", http.StatusInternalServerError))
	}
}
