package posts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type recordingBlobStore struct {
	uploads []string
	err     error
}

func (r *recordingBlobStore) Upload(_ context.Context, bucket, objectPath string, _ []byte, overwrite bool) error {
	if overwrite {
		return errors.New("post images must never overwrite")
	}
	r.uploads = append(r.uploads, bucket+"/"+objectPath)
	return r.err
}

func (r *recordingBlobStore) PublicURL(bucket, objectPath string) string {
	return "https://coyote.example.edu/storage/" + bucket + "/" + objectPath
}

type feedFixture struct {
	service *Service
	db      *gorm.DB
	blobs   *recordingBlobStore
	now     *time.Time
}

func newFeedFixture(t *testing.T, logger *zap.Logger, idValues ...string) feedFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&profiles.Profile{}, &Post{}); err != nil {
		t.Fatalf("failed to migrate feed schema: %v", err)
	}

	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	blobs := &recordingBlobStore{}
	service, err := NewService(ServiceConfig{
		Database:        db,
		Blobs:           blobs,
		IDProvider:      ids.NewSequenceProvider(idValues...),
		FetchLimit:      50,
		MaxContentChars: 400,
		ImageMaxBytes:   5 * 1024 * 1024,
		Clock:           func() time.Time { return now },
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("failed to build feed service: %v", err)
	}
	return feedFixture{service: service, db: db, blobs: blobs, now: &now}
}

func (f feedFixture) seedProfile(t *testing.T, id, fullName string) {
	t.Helper()
	profile := profiles.Profile{ID: id, Email: id + "@yotes.collegeofidaho.edu"}
	if fullName != "" {
		profile.FullName = &fullName
	}
	if err := f.db.Create(&profile).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
}

func (f feedFixture) countPosts(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&Post{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func TestCreateTextPostAndList(t *testing.T) {
	fixture := newFeedFixture(t, nil, "post-1")
	fixture.seedProfile(t, "user-a", "")
	ctx := context.Background()

	post, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: "  hello  "})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if post.ID != "post-1" || post.Content == nil || *post.Content != "hello" || post.ImageURL != nil {
		t.Fatalf("unexpected post %#v", post)
	}

	items, err := fixture.service.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one post, got %d", len(items))
	}
	item := items[0]
	if item.Post.Content == nil || *item.Post.Content != "hello" || item.Post.ImageURL != nil {
		t.Fatalf("unexpected feed item %#v", item.Post)
	}
	if item.Author.ID != "user-a" || item.Author.DisplayName() != "Student" {
		t.Fatalf("unexpected author %#v", item.Author)
	}
}

func TestCreateRejectsInvalidContentBeforeAnyIO(t *testing.T) {
	fixture := newFeedFixture(t, nil)
	fixture.seedProfile(t, "user-a", "")
	ctx := context.Background()

	if _, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: " \n\t "}); apperr.CodeOf(err) != "posts.create.empty_post" {
		t.Fatalf("expected empty_post, got %v", err)
	}
	tooLong := strings.Repeat("é", 401)
	if _, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: tooLong}); apperr.CodeOf(err) != "posts.create.content_too_long" {
		t.Fatalf("expected content_too_long, got %v", err)
	}
	exactlyAtCap := strings.Repeat("é", 400)
	if _, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: exactlyAtCap}); err != nil {
		t.Fatalf("content at the cap must be accepted: %v", err)
	}

	if len(fixture.blobs.uploads) != 0 {
		t.Fatalf("no upload expected, got %v", fixture.blobs.uploads)
	}
	if count := fixture.countPosts(t); count != 1 {
		t.Fatalf("expected only the valid post to be stored, got %d", count)
	}
}

func TestCreateImageOnlyPost(t *testing.T) {
	fixture := newFeedFixture(t, nil, "image-name", "post-1")
	fixture.seedProfile(t, "user-a", "Ada")
	ctx := context.Background()

	post, err := fixture.service.Create(ctx, "user-a", CreateRequest{Image: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if post.Content != nil {
		t.Fatalf("image-only post must have null content")
	}
	wantURL := "https://coyote.example.edu/storage/post-images/user-a/image-name.png"
	if post.ImageURL == nil || *post.ImageURL != wantURL {
		t.Fatalf("unexpected image url %v", post.ImageURL)
	}
	if len(fixture.blobs.uploads) != 1 || fixture.blobs.uploads[0] != "post-images/user-a/image-name.png" {
		t.Fatalf("unexpected uploads %v", fixture.blobs.uploads)
	}
}

func TestCreateAbortsWhenImageFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fixture := newFeedFixture(t, zap.New(core))
	fixture.seedProfile(t, "user-a", "")
	ctx := context.Background()

	_, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: "look", Image: strings.NewReader("not an image")})
	if apperr.CodeOf(err) != "posts.create.invalid_image" {
		t.Fatalf("expected invalid_image, got %v", err)
	}

	fixture.blobs.err = errors.New("bucket unavailable")
	_, err = fixture.service.Create(ctx, "user-a", CreateRequest{Content: "look", Image: bytes.NewReader(pngHeader)})
	if apperr.CodeOf(err) != "posts.create.upload_failed" || !apperr.Is(err, apperr.KindStore) {
		t.Fatalf("expected upload_failed store error, got %v", err)
	}
	if count := fixture.countPosts(t); count != 0 {
		t.Fatalf("failed uploads must not insert rows, got %d", count)
	}
	if entries := logs.FilterField(zap.String("reason", "upload_failed")).All(); len(entries) != 1 {
		t.Fatalf("expected one upload failure log, got %d", len(entries))
	}
}

func TestCreateRejectsOversizedImage(t *testing.T) {
	fixture := newFeedFixture(t, nil, "image-name", "post-id")
	fixture.seedProfile(t, "user-a", "")

	oversized := append(append([]byte{}, pngHeader...), make([]byte, 6*1024*1024)...)
	_, err := fixture.service.Create(context.Background(), "user-a", CreateRequest{Image: bytes.NewReader(oversized)})
	if apperr.CodeOf(err) != "posts.create.image_too_large" {
		t.Fatalf("expected image_too_large, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message() != "Image is too big. Max 5.0 MiB." {
		t.Fatalf("unexpected message for %v", err)
	}
	if len(fixture.blobs.uploads) != 0 || fixture.countPosts(t) != 0 {
		t.Fatalf("oversized image must not upload or insert")
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	fixture := newFeedFixture(t, nil, "p1", "p2", "p3")
	fixture.seedProfile(t, "user-a", "")
	ctx := context.Background()

	base := *fixture.now
	for i, content := range []string{"t1", "t2", "t3"} {
		*fixture.now = base.Add(time.Duration(i) * time.Minute)
		if _, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: content}); err != nil {
			t.Fatalf("create %s failed: %v", content, err)
		}
	}

	items, err := fixture.service.List(ctx, 50)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var order []string
	for _, item := range items {
		order = append(order, *item.Post.Content)
	}
	if strings.Join(order, ",") != "t3,t2,t1" {
		t.Fatalf("unexpected order %v", order)
	}

	limited, err := fixture.service.List(ctx, 2)
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 2 || *limited[0].Post.Content != "t3" {
		t.Fatalf("unexpected limited list %v", limited)
	}
}

func TestDeleteOnlyRemovesOwnedPost(t *testing.T) {
	fixture := newFeedFixture(t, nil, "p1", "p2")
	fixture.seedProfile(t, "user-a", "")
	fixture.seedProfile(t, "user-b", "")
	ctx := context.Background()

	if _, err := fixture.service.Create(ctx, "user-a", CreateRequest{Content: "mine"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := fixture.service.Create(ctx, "user-b", CreateRequest{Content: "theirs"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := fixture.service.Delete(ctx, "user-a", "p2"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("deleting someone else's post must fail with NOT_FOUND, got %v", err)
	}
	if err := fixture.service.Delete(ctx, "user-a", "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := fixture.service.Delete(ctx, "user-a", "p1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("second delete must report NOT_FOUND, got %v", err)
	}

	items, err := fixture.service.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].Post.ID != "p2" {
		t.Fatalf("expected only p2 to remain, got %v", items)
	}
}

func TestListByAuthor(t *testing.T) {
	fixture := newFeedFixture(t, nil, "p1", "p2", "p3")
	fixture.seedProfile(t, "user-a", "")
	fixture.seedProfile(t, "user-b", "")
	ctx := context.Background()

	base := *fixture.now
	for i, author := range []string{"user-a", "user-b", "user-a"} {
		*fixture.now = base.Add(time.Duration(i) * time.Second)
		if _, err := fixture.service.Create(ctx, author, CreateRequest{Content: fmt.Sprintf("post %d", i)}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	posts, err := fixture.service.ListByAuthor(ctx, "user-a", 0)
	if err != nil {
		t.Fatalf("list by author failed: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "p3" || posts[1].ID != "p1" {
		t.Fatalf("unexpected author posts %v", posts)
	}
}

func TestStoreRejectsEmptyPostRow(t *testing.T) {
	fixture := newFeedFixture(t, nil)
	fixture.seedProfile(t, "user-a", "")

	empty := ""
	row := Post{ID: "raw", UserID: "user-a", Content: &empty, CreatedAt: *fixture.now}
	if err := fixture.db.Omit("Author").Create(&row).Error; err == nil {
		t.Fatalf("expected the check constraint to reject an empty post")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected error without database")
	}
}
