// Package api exposes a library over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/renderer"
)

// DefaultMaxUploadSize limits multipart uploads to 32 MiB.
const DefaultMaxUploadSize int64 = 32 << 20

// Library is the subset of library.Library the handlers use.
type Library interface {
	UploadFile(ctx context.Context, upload *filelib.FileUpload) (*filelib.File, error)
	FindFile(ctx context.Context, id uuid.UUID) (*filelib.File, error)
	DeleteFile(ctx context.Context, file *filelib.File) error
	Render(ctx context.Context, id uuid.UUID, version string, opts renderer.Options) *renderer.Response
}

// FilesHandler serves upload, info, delete and version rendering.
type FilesHandler struct {
	library       Library
	logger        *slog.Logger
	tokenAuth     *jwtauth.JWTAuth
	maxUploadSize int64
	tempDir       string
}

// HandlerOption configures a FilesHandler
type HandlerOption func(*FilesHandler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *FilesHandler) {
		h.logger = logger
	}
}

// WithTokenAuth verifies bearer tokens on version routes. The verified
// token is left in the request context for authorization plugins; the
// handler itself rejects nothing.
func WithTokenAuth(ta *jwtauth.JWTAuth) HandlerOption {
	return func(h *FilesHandler) {
		h.tokenAuth = ta
	}
}

func WithMaxUploadSize(n int64) HandlerOption {
	return func(h *FilesHandler) {
		h.maxUploadSize = n
	}
}

// WithTempDir sets where uploads are spooled before they are stored.
func WithTempDir(dir string) HandlerOption {
	return func(h *FilesHandler) {
		h.tempDir = dir
	}
}

func NewFilesHandler(library Library, opts ...HandlerOption) *FilesHandler {
	h := &FilesHandler{
		library:       library,
		logger:        slog.Default(),
		maxUploadSize: DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for files endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/{id}", h.GetFileInfo)
	r.Delete("/{id}", h.DeleteFile)
	r.Group(func(r chi.Router) {
		if h.tokenAuth != nil {
			r.Use(jwtauth.Verifier(h.tokenAuth))
		}
		r.Get("/{id}/versions/{version}", h.RenderVersion)
	})
	return r
}

// FileInfoResponse describes a file and its created versions.
type FileInfoResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Profile    string    `json:"profile"`
	Status     string    `json:"status"`
	ResourceID string    `json:"resource_id"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	Versions   []string  `json:"versions"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func newFileInfo(file *filelib.File) FileInfoResponse {
	info := FileInfoResponse{
		ID:         file.ID.String(),
		Name:       file.Name,
		Profile:    file.Profile,
		Status:     string(file.Status),
		ResourceID: file.ResourceID.String(),
		Versions:   filelib.VersionStrings(file.Versions()),
		CreatedAt:  file.CreatedAt,
		UpdatedAt:  file.UpdatedAt,
	}
	if res := file.Resource; res != nil {
		info.MimeType = res.MimeType
		info.Size = res.Size
		info.Hash = res.Hash
		for _, v := range res.Versions() {
			if !file.HasVersion(v) {
				info.Versions = append(info.Versions, v.String())
			}
		}
	}
	return info
}

// Upload stores the multipart "file" field under the optional "profile"
// field.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	src, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer src.Close()

	path, err := h.spool(src)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "spool upload", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read upload")
		return
	}
	defer os.Remove(path)

	upload := filelib.NewFileUpload(path, r.FormValue("profile"))
	upload.Name = header.Filename

	file, err := h.library.UploadFile(r.Context(), upload)
	if err != nil {
		h.writeLibraryError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newFileInfo(file))
}

// GetFileInfo returns the file as JSON.
func (h *FilesHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	file, ok := h.findFile(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, newFileInfo(file))
}

// DeleteFile removes the file.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	file, ok := h.findFile(w, r)
	if !ok {
		return
	}
	if err := h.library.DeleteFile(r.Context(), file); err != nil {
		h.writeLibraryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderVersion writes the bytes of a version. "download" in the query
// string asks for an attachment.
func (h *FilesHandler) RenderVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	download, _ := strconv.ParseBool(r.URL.Query().Get("download"))
	resp := h.library.Render(r.Context(), id, chi.URLParam(r, "version"), renderer.Options{Download: download})
	if err := resp.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "write render response", "file_id", id, "error", err)
	}
}

func (h *FilesHandler) findFile(w http.ResponseWriter, r *http.Request) (*filelib.File, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid file id")
		return nil, false
	}
	file, err := h.library.FindFile(r.Context(), id)
	if err != nil {
		h.writeLibraryError(w, r, err)
		return nil, false
	}
	return file, true
}

func (h *FilesHandler) spool(src io.Reader) (string, error) {
	tmp, err := os.CreateTemp(h.tempDir, "filelib-upload-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (h *FilesHandler) writeLibraryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, filelib.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, filelib.ErrInvalidArgument), errors.Is(err, filelib.ErrInvalidVersion):
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, filelib.ErrAccessDenied):
		h.writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "library operation failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}
