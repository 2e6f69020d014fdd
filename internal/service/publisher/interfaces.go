package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ifuryst/plume/internal/models"
)

var (
	ErrUnknownPlatform    = errors.New("unknown platform")
	ErrMissingCredentials = errors.New("channel credentials are incomplete")
	ErrEmptyContent       = errors.New("post text is empty")
	ErrContentTooLong     = errors.New("post text exceeds platform limit")
	ErrMissingReplyTarget = errors.New("comment has no reply target")
	ErrCircuitOpen        = errors.New("platform temporarily unavailable")
	ErrMediaNotSupported  = errors.New("platform publisher does not support media")
)

// PublishContent represents the content to be published
type PublishContent struct {
	ID         string          `json:"id"`
	Kind       models.PostKind `json:"kind"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"image_url,omitempty"`
	ReplyToURL string          `json:"reply_to_url,omitempty"`
}

// PublishResult represents the result of a publish operation
type PublishResult struct {
	Success     bool      `json:"success"`
	PublishID   string    `json:"publish_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Error       error     `json:"-"`
	PublishedAt time.Time `json:"published_at"`
}

// ErrorMessage returns the failure reason, or "" on success.
func (r *PublishResult) ErrorMessage() string {
	if r == nil || r.Success {
		return ""
	}
	if r.Error == nil {
		return "unknown error"
	}
	return r.Error.Error()
}

// Identity is the account the credentials authenticate as.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ValidationResult is returned by credential checks.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Error    string    `json:"error,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
}

// ProviderError is a non-2xx answer from the platform API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure says something about the platform
// rather than about this request.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Publisher is the unified interface for all platform operations.
// Implementations are not idempotent: two Publish calls may create two
// remote posts.
type Publisher interface {
	GetPlatformName() string

	// ValidateContent checks platform constraints without network access.
	ValidateContent(content PublishContent) error
	Publish(ctx context.Context, content PublishContent, creds models.Credentials) (*PublishResult, error)
	ValidateCredentials(ctx context.Context, creds models.Credentials) (*Identity, error)
}

// FromPost converts a Post to PublishContent
func FromPost(post *models.Post) PublishContent {
	return PublishContent{
		ID:         post.ID,
		Kind:       post.Kind,
		Text:       post.Content.Text,
		ImageURL:   post.Content.ImageURL,
		ReplyToURL: post.Content.ReplyToURL,
	}
}
