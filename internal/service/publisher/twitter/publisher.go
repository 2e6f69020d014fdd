package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/ifuryst/plume/internal/models"
	"github.com/ifuryst/plume/internal/service/publisher"
	"github.com/ifuryst/plume/pkg/util"
)

const (
	PlatformName     = models.ChannelKindTwitter
	defaultBaseURL   = "https://api.twitter.com"
	defaultMaxLength = 280
	statusURLFormat  = "https://twitter.com/i/web/status/%s"
)

type Config struct {
	BaseURL   string
	MaxLength int
	// HTTPClient is the transport the OAuth1 client is layered on.
	HTTPClient *http.Client
}

// Publisher posts tweets through the v2 API using OAuth 1.0a user context.
type Publisher struct {
	cfg    Config
	logger *zap.Logger
}

func NewTwitterPublisher(logger *zap.Logger, cfg Config) *Publisher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxLength
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Publisher{cfg: cfg, logger: logger.Named("twitter")}
}

func (p *Publisher) GetPlatformName() string {
	return PlatformName
}

func (p *Publisher) ValidateContent(content publisher.PublishContent) error {
	if strings.TrimSpace(content.Text) == "" {
		return publisher.ErrEmptyContent
	}
	if n := util.RuneLength(content.Text); n > p.cfg.MaxLength {
		return fmt.Errorf("%w: %d > %d characters", publisher.ErrContentTooLong, n, p.cfg.MaxLength)
	}
	if content.Kind == models.PostKindComment && content.ReplyToURL == "" {
		return publisher.ErrMissingReplyTarget
	}
	if content.ImageURL != "" {
		return publisher.ErrMediaNotSupported
	}
	return nil
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type userResponse struct {
	Data struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *Publisher) Publish(ctx context.Context, content publisher.PublishContent, creds models.Credentials) (*publisher.PublishResult, error) {
	body := tweetRequest{Text: content.Text}
	if content.ReplyToURL != "" {
		body.Reply = &tweetReply{InReplyToTweetID: util.LastPathSegment(content.ReplyToURL)}
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tweet: %w", err)
	}

	var tweet tweetResponse
	if err := p.do(ctx, creds, http.MethodPost, "/2/tweets", jsonBody, &tweet); err != nil {
		return nil, err
	}
	if tweet.Data.ID == "" {
		return nil, fmt.Errorf("tweet response has no id")
	}

	p.logger.Info("Tweet published",
		zap.String("post_id", content.ID),
		zap.String("tweet_id", tweet.Data.ID))

	return &publisher.PublishResult{
		Success:   true,
		PublishID: tweet.Data.ID,
		URL:       fmt.Sprintf(statusURLFormat, tweet.Data.ID),
	}, nil
}

func (p *Publisher) ValidateCredentials(ctx context.Context, creds models.Credentials) (*publisher.Identity, error) {
	var user userResponse
	if err := p.do(ctx, creds, http.MethodGet, "/2/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &publisher.Identity{
		ID:       user.Data.ID,
		Username: user.Data.Username,
		Name:     user.Data.Name,
	}, nil
}

func (p *Publisher) do(ctx context.Context, creds models.Credentials, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client(ctx, creds).Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &publisher.ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (p *Publisher) client(ctx context.Context, creds models.Credentials) *http.Client {
	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	return config.Client(context.WithValue(ctx, oauth1.HTTPClient, p.cfg.HTTPClient), token)
}

func errorMessage(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return apiErr.Detail
		case len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "":
			return apiErr.Errors[0].Message
		case apiErr.Title != "":
			return apiErr.Title
		}
	}
	if len(body) == 0 {
		return "twitter API error"
	}
	return util.Preview(string(body), 200)
}
