package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newMemoryStore(t *testing.T) *BlobStore {
	t.Helper()
	store, err := NewBlobStore(Config{
		Filesystem:    afero.NewMemMapFs(),
		PublicBaseURL: "https://coyote.example.edu/",
	})
	if err != nil {
		t.Fatalf("failed to build blob store: %v", err)
	}
	return store
}

func TestBlobStoreUploadAndOpen(t *testing.T) {
	store := newMemoryStore(t)

	if err := store.Upload(context.Background(), BucketPostImages, "user-1/photo.png", pngHeader, false); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	reader, size, err := store.Open(BucketPostImages, "user-1/photo.png")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer reader.Close()
	if size != int64(len(pngHeader)) {
		t.Fatalf("unexpected size %d", size)
	}
	stored, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(stored, pngHeader) {
		t.Fatalf("stored bytes differ from upload")
	}
}

func TestBlobStoreRejectsDuplicateWithoutOverwrite(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	if err := store.Upload(ctx, BucketPostImages, "user-1/a.png", pngHeader, false); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	err := store.Upload(ctx, BucketPostImages, "user-1/a.png", pngHeader, false)
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
	if err := store.Upload(ctx, BucketAvatars, "user-1/avatar.png", pngHeader, true); err != nil {
		t.Fatalf("avatar upload failed: %v", err)
	}
	if err := store.Upload(ctx, BucketAvatars, "user-1/avatar.png", []byte("GIF89a"), true); err != nil {
		t.Fatalf("overwrite upload failed: %v", err)
	}
	_, size, err := store.Open(BucketAvatars, "user-1/avatar.png")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if size != int64(len("GIF89a")) {
		t.Fatalf("expected overwrite to truncate, size %d", size)
	}
}

func TestBlobStoreRejectsInvalidPaths(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	cases := []struct {
		bucket string
		path   string
	}{
		{bucket: BucketAvatars, path: "../secrets"},
		{bucket: BucketAvatars, path: "user/../../x"},
		{bucket: BucketAvatars, path: "  "},
		{bucket: "private", path: "x.png"},
	}
	for _, c := range cases {
		if err := store.Upload(ctx, c.bucket, c.path, pngHeader, true); !errors.Is(err, ErrInvalidObjectPath) {
			t.Fatalf("expected invalid path error for %s/%q, got %v", c.bucket, c.path, err)
		}
	}
}

func TestBlobStoreOpenMissing(t *testing.T) {
	store := newMemoryStore(t)
	if _, _, err := store.Open(BucketAvatars, "nobody/avatar.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBlobStoreHonoursCancelledContext(t *testing.T) {
	store := newMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Upload(ctx, BucketAvatars, "u/avatar.png", pngHeader, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	store := newMemoryStore(t)
	got := store.PublicURL(BucketPostImages, "user-1/abc.png")
	want := "https://coyote.example.edu/storage/post-images/user-1/abc.png"
	if got != want {
		t.Fatalf("unexpected public url %q", got)
	}
}

func TestValidateImage(t *testing.T) {
	info, err := ValidateImage(pngHeader, 1024)
	if err != nil {
		t.Fatalf("expected png to validate: %v", err)
	}
	if info.ContentType != "image/png" || info.Extension != ".png" {
		t.Fatalf("unexpected image info %#v", info)
	}

	if _, err := ValidateImage([]byte("just some text"), 1024); !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected not-an-image error, got %v", err)
	}
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)
	if _, err := ValidateImage(svg, 1024); !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected svg to be rejected, got %v", err)
	}
	if _, err := ValidateImage(nil, 1024); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
	if _, err := ValidateImage(pngHeader, 8); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestIsAllowedImageType(t *testing.T) {
	for _, contentType := range []string{"image/png", "image/jpeg", "image/gif", "image/webp"} {
		if !IsAllowedImageType(contentType) {
			t.Fatalf("expected %s to be allowed", contentType)
		}
	}
	for _, contentType := range []string{"image/svg+xml", "text/html; charset=utf-8", "image/x-icon"} {
		if IsAllowedImageType(contentType) {
			t.Fatalf("expected %s to be rejected", contentType)
		}
	}
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("12345"), 5)
	if err != nil || string(data) != "12345" {
		t.Fatalf("unexpected result %q %v", data, err)
	}
	if _, err := ReadLimited(strings.NewReader("123456"), 5); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestImageValidationMessage(t *testing.T) {
	if msg := ImageValidationMessage(ErrPayloadTooLarge, 3*1024*1024); msg != "Image is too big. Max 3.0 MiB." {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := ImageValidationMessage(ErrNotAnImage, 1); msg != "Please choose an image file." {
		t.Fatalf("unexpected message %q", msg)
	}
}
