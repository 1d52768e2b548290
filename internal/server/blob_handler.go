package server

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sniffLength        = 3072
	blobSecurityPolicy = "default-src 'none'; sandbox"
	fallbackBlobType   = "application/octet-stream"
)

func (h *httpHandler) handleBlob(c *gin.Context) {
	bucket := c.Param("bucket")
	objectPath := strings.TrimPrefix(c.Param("path"), "/")

	reader, _, err := h.blobs.Open(bucket, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidObjectPath) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "storage.open.object_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("blob open failed", zap.String("bucket", bucket), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again.", "code": "storage.open.failed"})
		return
	}
	defer reader.Close()

	header := make([]byte, sniffLength)
	n, err := io.ReadFull(reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.logger.Error("blob read failed", zap.String("bucket", bucket), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again.", "code": "storage.open.failed"})
		return
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		h.logger.Error("blob seek failed", zap.String("bucket", bucket), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again.", "code": "storage.open.failed"})
		return
	}

	// Objects that are not an accepted raster image are sent as an attachment.
	contentType := storage.ContentTypeOf(header[:n])
	if !storage.IsAllowedImageType(contentType) {
		contentType = fallbackBlobType
		c.Header("Content-Disposition", "attachment")
	}
	c.Header("Content-Type", contentType)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Security-Policy", blobSecurityPolicy)
	http.ServeContent(c.Writer, c.Request, path.Base(objectPath), time.Time{}, reader)
}
