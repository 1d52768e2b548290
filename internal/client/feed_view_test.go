package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
	"github.com/gin-gonic/gin"
)

type fakeFeedAPI struct {
	mu        sync.Mutex
	posts     []Post
	feedCalls int32
	creates   int32
	deletes   int32
	failNext  bool
	release   chan struct{}
}

func newFakeFeedAPI(t *testing.T, api *fakeFeedAPI) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/feed", func(c *gin.Context) {
		atomic.AddInt32(&api.feedCalls, 1)
		api.mu.Lock()
		defer api.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"posts": api.posts})
	})
	router.POST("/feed/posts", func(c *gin.Context) {
		atomic.AddInt32(&api.creates, 1)
		if api.release != nil {
			<-api.release
		}
		content := c.PostForm("content")
		api.mu.Lock()
		defer api.mu.Unlock()
		post := Post{ID: "p-" + content, Content: &content, CreatedAt: time.Now().UTC()}
		api.posts = append([]Post{post}, api.posts...)
		c.JSON(http.StatusCreated, gin.H{"post": post, "posts": api.posts})
	})
	router.DELETE("/feed/posts/:id", func(c *gin.Context) {
		atomic.AddInt32(&api.deletes, 1)
		if c.Query("confirm") != "true" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Delete this post?", "code": "posts.delete.confirmation_required"})
			return
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if api.failNext {
			api.failNext = false
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again.", "code": "posts.delete.post_delete_failed"})
			return
		}
		api.posts = removePost(api.posts, c.Param("id"))
		c.Status(http.StatusNoContent)
	})
	router.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Please sign in.", "code": "NOT_AUTHENTICATED", "redirect": "/sign-in"})
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestFeedView(t *testing.T, api *fakeFeedAPI) *FeedView {
	t.Helper()
	server := newFakeFeedAPI(t, api)
	apiClient, err := New(server.URL, server.Client())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return NewFeedView(apiClient, 400)
}

func contentOf(post Post) string {
	if post.Content == nil {
		return ""
	}
	return *post.Content
}

func TestFeedViewSubmitValidatesLocally(t *testing.T) {
	api := &fakeFeedAPI{}
	view := newTestFeedView(t, api)
	ctx := context.Background()

	err := view.Submit(ctx, "   ", nil)
	if apperr.CodeOf(err) != "posts.create.empty_post" {
		t.Fatalf("expected empty_post, got %v", err)
	}
	if view.Status() == "" {
		t.Fatalf("expected a status message for the rejected post")
	}
	if err := view.Submit(ctx, strings.Repeat("x", 401), nil); apperr.CodeOf(err) != "posts.create.content_too_long" {
		t.Fatalf("expected content_too_long, got %v", err)
	}
	if calls := atomic.LoadInt32(&api.creates); calls != 0 {
		t.Fatalf("invalid posts must not reach the network, got %d calls", calls)
	}
}

func TestFeedViewSubmitReplacesList(t *testing.T) {
	api := &fakeFeedAPI{}
	view := newTestFeedView(t, api)
	ctx := context.Background()

	if err := view.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if view.Loading() {
		t.Fatalf("loading must clear after the first refresh")
	}
	if err := view.Submit(ctx, "hello", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	list := view.Posts()
	if len(list) != 1 || contentOf(list[0]) != "hello" {
		t.Fatalf("unexpected list %v", list)
	}
	if view.Status() != "Posted" {
		t.Fatalf("unexpected status %q", view.Status())
	}
}

func TestFeedViewSuccessStatusExpires(t *testing.T) {
	api := &fakeFeedAPI{}
	view := newTestFeedView(t, api)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	view.now = func() time.Time { return now }
	ctx := context.Background()

	if err := view.Submit(ctx, "hello", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if view.Status() != "Posted" {
		t.Fatalf("unexpected status %q", view.Status())
	}
	now = now.Add(SuccessStatusTTL - time.Millisecond)
	if view.Status() != "Posted" {
		t.Fatalf("status must stay visible before it expires")
	}
	now = now.Add(time.Millisecond)
	if status := view.Status(); status != "" {
		t.Fatalf("expected success status to clear, got %q", status)
	}

	if err := view.Submit(ctx, "   ", nil); err == nil {
		t.Fatalf("expected empty post to be rejected")
	}
	now = now.Add(time.Hour)
	if view.Status() == "" {
		t.Fatalf("error status must not expire")
	}
}

func TestFeedViewDeleteIsOptimistic(t *testing.T) {
	api := &fakeFeedAPI{}
	view := newTestFeedView(t, api)
	ctx := context.Background()

	for _, content := range []string{"one", "two"} {
		if err := view.Submit(ctx, content, nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	feedCallsBefore := atomic.LoadInt32(&api.feedCalls)

	declined := ConfirmFunc(func(string) bool { return false })
	if err := view.Delete(ctx, "p-one", declined); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if calls := atomic.LoadInt32(&api.deletes); calls != 0 {
		t.Fatalf("declined deletes must not reach the network")
	}

	var prompt string
	accepted := ConfirmFunc(func(p string) bool { prompt = p; return true })
	if err := view.Delete(ctx, "p-one", accepted); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if prompt != "Delete this post?" {
		t.Fatalf("unexpected prompt %q", prompt)
	}
	list := view.Posts()
	if len(list) != 1 || list[0].ID != "p-two" {
		t.Fatalf("expected only p-two to remain, got %v", list)
	}
	if calls := atomic.LoadInt32(&api.feedCalls); calls != feedCallsBefore {
		t.Fatalf("delete must not re-fetch the feed")
	}

	api.mu.Lock()
	api.failNext = true
	api.mu.Unlock()
	if err := view.Delete(ctx, "p-two", accepted); err == nil {
		t.Fatalf("expected delete failure")
	}
	if list := view.Posts(); len(list) != 1 {
		t.Fatalf("failed delete must leave the row displayed, got %v", list)
	}
	if view.Status() != "Something went wrong. Please try again." {
		t.Fatalf("unexpected status %q", view.Status())
	}
}

func TestFeedViewRejectsConcurrentActions(t *testing.T) {
	api := &fakeFeedAPI{release: make(chan struct{})}
	view := newTestFeedView(t, api)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- view.Submit(ctx, "slow", nil)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for !view.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("submit never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := view.Refresh(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(api.release)
	if err := <-done; err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if view.Busy() {
		t.Fatalf("view must be idle after the action completes")
	}
}

func TestClientSurfacesSignInRedirect(t *testing.T) {
	api := &fakeFeedAPI{}
	server := newFakeFeedAPI(t, api)
	apiClient, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}

	_, err = apiClient.Dashboard(context.Background())
	if !RequiresSignIn(err) {
		t.Fatalf("expected a sign-in redirect, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind() != apperr.KindNotAuthenticated {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewDefaultClientHasNoTimeout(t *testing.T) {
	apiClient, err := New("http://coyote.test", nil)
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	if apiClient.httpClient.Timeout != 0 {
		t.Fatalf("expected no client-side timeout, got %v", apiClient.httpClient.Timeout)
	}
	if apiClient.httpClient.Jar == nil {
		t.Fatalf("expected a cookie jar")
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("  ", nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
