// Package client talks to the Coyote Connection API on behalf of one signed-in
// user and keeps the page-level state a feed or profile screen renders.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/apperr"
)

const mimeJSON = "application/json"

var errMissingBaseURL = errors.New("client: base url is required")

// APIError is a non-2xx response decoded from the API.
type APIError struct {
	Status   int
	Code     string
	Message  string
	Redirect string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Kind classifies the failure the same way the server does.
func (e *APIError) Kind() apperr.Kind {
	switch {
	case e.Code == string(apperr.KindEmailNotAllowed) || strings.HasSuffix(e.Code, ".email_not_allowed"):
		return apperr.KindEmailNotAllowed
	case e.Status == http.StatusUnauthorized:
		return apperr.KindNotAuthenticated
	case e.Status == http.StatusNotFound:
		return apperr.KindNotFound
	case e.Status == http.StatusBadRequest:
		return apperr.KindValidation
	default:
		return apperr.KindStore
	}
}

// RequiresSignIn reports whether err means the caller must go back to sign-in.
func RequiresSignIn(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Redirect != ""
}

// Profile mirrors the profile payload.
type Profile struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	FullName    *string `json:"full_name"`
	Major       *string `json:"major"`
	GradYear    *int    `json:"grad_year"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// Author mirrors the author block attached to feed posts.
type Author struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	FullName    *string `json:"full_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// Post mirrors one feed entry.
type Post struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Content    *string   `json:"content"`
	ImageURL   *string   `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedAgo string    `json:"created_ago"`
	Author     *Author   `json:"author,omitempty"`
}

// ProfileUpdate is the editable profile form.
type ProfileUpdate struct {
	FullName *string `json:"full_name"`
	Major    *string `json:"major"`
	GradYear *int    `json:"grad_year"`
	Bio      *string `json:"bio"`
}

// UserPage is a read-only profile with its author's posts.
type UserPage struct {
	Profile Profile `json:"profile"`
	Posts   []Post  `json:"posts"`
}

// Image is an upload attached to a post or avatar.
type Image struct {
	Filename string
	Data     io.Reader
}

// Client is a cookie-carrying API client.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New constructs a Client for baseURL. A nil httpClient gets a default with
// its own cookie jar and no timeout; requests end when their context does or
// the server answers. A provided client without a jar gets one attached.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SignUp registers an account.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/sign-up", credentials(email, password), nil)
}

// SignIn opens a session; the session cookie is kept in the jar.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/sign-in", credentials(email, password), nil)
}

// SignOut closes the session.
func (c *Client) SignOut(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/sign-out", nil, nil)
}

// Dashboard returns the signed-in user's profile, creating it on first use.
func (c *Client) Dashboard(ctx context.Context) (Profile, error) {
	var profile Profile
	err := c.doJSON(ctx, http.MethodGet, "/dashboard", nil, &profile)
	return profile, err
}

// Profile returns the signed-in user's editable profile.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	err := c.doJSON(ctx, http.MethodGet, "/profile", nil, &profile)
	return profile, err
}

// UpdateProfile saves the profile form.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	var response struct {
		Profile Profile `json:"profile"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/profile", update, &response)
	return response.Profile, err
}

// UploadAvatar replaces the signed-in user's avatar.
func (c *Client) UploadAvatar(ctx context.Context, image Image) (Profile, error) {
	var response struct {
		Profile Profile `json:"profile"`
	}
	err := c.doMultipart(ctx, "/profile/avatar", nil, "avatar", &image, &response)
	return response.Profile, err
}

// Feed lists the newest posts. A zero limit uses the server default.
func (c *Client) Feed(ctx context.Context, limit int) ([]Post, error) {
	path := "/feed"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var response struct {
		Posts []Post `json:"posts"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &response)
	return response.Posts, err
}

// CreatePost publishes a post and returns it with the refreshed feed.
func (c *Client) CreatePost(ctx context.Context, content string, image *Image) (Post, []Post, error) {
	var response struct {
		Post  Post   `json:"post"`
		Posts []Post `json:"posts"`
	}
	err := c.doMultipart(ctx, "/feed/posts", map[string]string{"content": content}, "image", image, &response)
	return response.Post, response.Posts, err
}

// DeletePost deletes one of the signed-in user's posts. The caller is
// responsible for having confirmed the deletion.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/feed/posts/"+url.PathEscape(postID)+"?confirm=true", nil, nil)
}

// UserPage returns a read-only profile and its posts.
func (c *Client) UserPage(ctx context.Context, userID string) (UserPage, error) {
	var page UserPage
	err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &page)
	return page, err
}

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, target interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", mimeJSON)
	}
	return c.send(request, target)
}

func (c *Client) doMultipart(ctx context.Context, path string, fields map[string]string, fileField string, image *Image, target interface{}) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("client: write form field: %w", err)
		}
	}
	if image != nil && image.Data != nil {
		filename := image.Filename
		if filename == "" {
			filename = "upload"
		}
		part, err := writer.CreateFormFile(fileField, filename)
		if err != nil {
			return fmt.Errorf("client: create form file: %w", err)
		}
		if _, err := io.Copy(part, image.Data); err != nil {
			return fmt.Errorf("client: copy image: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("client: close form: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), &body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(request, target)
}

func (c *Client) send(request *http.Request, target interface{}) error {
	request.Header.Set("Accept", mimeJSON)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeAPIError(response)
	}
	if target == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	return c.baseURL.String() + path
}

func decodeAPIError(response *http.Response) error {
	var payload struct {
		Error    string `json:"error"`
		Code     string `json:"code"`
		Redirect string `json:"redirect"`
	}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = http.StatusText(response.StatusCode)
		}
	}
	return &APIError{
		Status:   response.StatusCode,
		Code:     payload.Code,
		Message:  payload.Error,
		Redirect: payload.Redirect,
	}
}
