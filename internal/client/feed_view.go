package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
)

const (
	deletePrompt = "Delete this post?"
	// SuccessStatusTTL is how long a success message stays visible.
	SuccessStatusTTL = 2500 * time.Millisecond
)

var (
	// ErrBusy is returned when an action starts while another is in flight.
	ErrBusy = errors.New("client: another action is in progress")
	// ErrNotConfirmed is returned when the user declines a deletion.
	ErrNotConfirmed = errors.New("client: deletion not confirmed")
)

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// FeedView holds the feed list one screen renders. Only one action runs at a
// time; the list changes only when an action completes.
type FeedView struct {
	client          *Client
	maxContentChars int

	now func() time.Time

	mu            sync.Mutex
	posts         []Post
	inFlight      bool
	loading       bool
	status        string
	statusExpires time.Time
}

// NewFeedView builds a FeedView. A non-positive maxContentChars uses the
// default content cap.
func NewFeedView(client *Client, maxContentChars int) *FeedView {
	if maxContentChars <= 0 {
		maxContentChars = posts.DefaultMaxContentChars
	}
	return &FeedView{client: client, maxContentChars: maxContentChars, now: time.Now, loading: true}
}

// Posts returns a copy of the current list.
func (v *FeedView) Posts() []Post {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Post(nil), v.posts...)
}

// Status returns the last user-visible message. Empty means nothing to show.
// Success messages expire after SuccessStatusTTL; error messages stay until
// the next action.
func (v *FeedView) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.statusExpires.IsZero() && !v.now().Before(v.statusExpires) {
		v.status = ""
		v.statusExpires = time.Time{}
	}
	return v.status
}

// Loading reports whether the first fetch has not completed yet.
func (v *FeedView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Busy reports whether an action is in flight.
func (v *FeedView) Busy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inFlight
}

// Refresh replaces the list with the newest posts.
func (v *FeedView) Refresh(ctx context.Context) error {
	if err := v.begin(); err != nil {
		return err
	}
	list, err := v.client.Feed(ctx, 0)
	v.finish(func() {
		v.loading = false
		if err == nil {
			v.posts = list
		}
	}, err, "")
	return err
}

// Submit validates content locally, publishes the post and replaces the list
// with the refreshed feed. Invalid input never reaches the network.
func (v *FeedView) Submit(ctx context.Context, content string, image *Image) error {
	hasImage := image != nil && image.Data != nil
	if _, err := posts.ValidateContent(content, hasImage, v.maxContentChars); err != nil {
		v.setStatus(messageOf(err))
		return err
	}
	if err := v.begin(); err != nil {
		return err
	}
	_, list, err := v.client.CreatePost(ctx, content, image)
	v.finish(func() {
		if err == nil {
			v.posts = list
		}
	}, err, "Posted")
	return err
}

// Delete asks confirm, deletes the post and drops it from the local list
// without re-fetching. A failed delete leaves the list untouched.
func (v *FeedView) Delete(ctx context.Context, postID string, confirm Confirmer) error {
	if confirm == nil || !confirm.Confirm(deletePrompt) {
		return ErrNotConfirmed
	}
	if err := v.begin(); err != nil {
		return err
	}
	err := v.client.DeletePost(ctx, postID)
	v.finish(func() {
		if err == nil {
			v.posts = removePost(v.posts, postID)
		}
	}, err, "Deleted")
	return err
}

func (v *FeedView) begin() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inFlight {
		return ErrBusy
	}
	v.inFlight = true
	return nil
}

func (v *FeedView) finish(apply func(), err error, success string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	apply()
	v.inFlight = false
	if err != nil {
		v.status = messageOf(err)
		v.statusExpires = time.Time{}
		return
	}
	v.status = success
	v.statusExpires = v.now().Add(SuccessStatusTTL)
}

func (v *FeedView) setStatus(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = message
	v.statusExpires = time.Time{}
}

func removePost(list []Post, postID string) []Post {
	kept := make([]Post, 0, len(list))
	for _, post := range list {
		if post.ID != postID {
			kept = append(kept, post)
		}
	}
	return kept
}
