package handler

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xxxsen/casememo/internal/filestore"
	"github.com/xxxsen/casememo/internal/pkg/errcode"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/response"
)

type FileHandler struct {
	store     filestore.Store
	maxUpload int64
}

type UploadResponse struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

func NewFileHandler(store filestore.Store, maxUpload int64) *FileHandler {
	if maxUpload <= 0 {
		maxUpload = defaultUploadLimit
	}
	return &FileHandler{store: store, maxUpload: maxUpload}
}

// Upload stores a photo for a later vision chat turn. The returned key is what
// the client sends back as images[].file_key.
func (h *FileHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > h.maxUpload {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUpload))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	contentType, err := sniffContentType(opened)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if !strings.HasPrefix(contentType, "image/") {
		response.Error(c, errcode.ErrInvalidFile, "only images are accepted")
		return
	}

	key := buildFileKey(file.Filename, contentType)
	if err := h.store.Save(c.Request.Context(), key, opened, file.Size, contentType); err != nil {
		response.Error(c, errcode.ErrUploadFailed, "failed to upload file")
		return
	}
	response.Success(c, UploadResponse{
		Key:         key,
		URL:         h.store.URL(key, requestBaseURL(c)),
		Name:        file.Filename,
		ContentType: contentType,
	})
}

func (h *FileHandler) Get(c *gin.Context) {
	key := c.Param("key")
	file, err := h.store.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) || errors.Is(err, appErr.ErrInvalid) {
			c.Status(http.StatusNotFound)
			return
		}
		handleError(c, err)
		return
	}
	defer file.Close()
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}

func requestBaseURL(c *gin.Context) string {
	proto := c.GetHeader("X-Forwarded-Proto")
	if proto == "" {
		if c.Request.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return proto + "://" + host
}

func sniffContentType(file multipart.File) (string, error) {
	buf := make([]byte, 512)
	read, err := file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:read]), nil
}

func buildFileKey(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return uuid.NewString() + ext
}
