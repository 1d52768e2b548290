package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmptyPayload    = errors.New("storage: empty payload")
	ErrPayloadTooLarge = errors.New("storage: payload exceeds size ceiling")
	ErrNotAnImage      = errors.New("storage: payload is not an image")
)

// AllowedImageTypes are the raster formats accepted for uploads.
var AllowedImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// ImageInfo describes a validated image payload.
type ImageInfo struct {
	ContentType string
	Extension   string
	Size        int64
}

// ReadLimited reads at most maxBytes from r and fails with ErrPayloadTooLarge
// when more data is available.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}

// ValidateImage checks the payload size against maxBytes and sniffs its
// content type. Only AllowedImageTypes pass; SVG and other scriptable formats
// are rejected with ErrNotAnImage.
func ValidateImage(data []byte, maxBytes int64) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, ErrEmptyPayload
	}
	if int64(len(data)) > maxBytes {
		return ImageInfo{}, ErrPayloadTooLarge
	}
	detected := mimetype.Detect(data)
	if !IsAllowedImageType(detected.String()) {
		return ImageInfo{}, fmt.Errorf("%w: detected %s", ErrNotAnImage, detected.String())
	}
	return ImageInfo{
		ContentType: detected.String(),
		Extension:   detected.Extension(),
		Size:        int64(len(data)),
	}, nil
}

// ImageValidationMessage renders a user-facing explanation for an image
// validation failure.
func ImageValidationMessage(err error, maxBytes int64) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return fmt.Sprintf("Image is too big. Max %s.", humanize.IBytes(uint64(maxBytes)))
	case errors.Is(err, ErrNotAnImage), errors.Is(err, ErrEmptyPayload):
		return "Please choose an image file."
	default:
		return "Image could not be read."
	}
}

// IsAllowedImageType reports whether contentType is one of AllowedImageTypes.
func IsAllowedImageType(contentType string) bool {
	return mimetype.EqualsAny(contentType, AllowedImageTypes...)
}

// ContentTypeOf sniffs the content type of stored bytes.
func ContentTypeOf(header []byte) string {
	return mimetype.Detect(header).String()
}
