// Package partner is a client for the partner JSON API.
package partner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/go-resty/resty/v2"
)

const (
	apiKeyLength         = 31
	apiKeySeparatorIndex = 10
)

// ErrInvalidArgument ...
var ErrInvalidArgument = errors.New("invalid argument")

// APIError is a non-2xx answer from the partner API.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

// Error ...
func (e *APIError) Error() string {
	return fmt.Sprintf("partner API %s failed (%d): %s", e.Path, e.StatusCode, e.Body)
}

// ValidateAPIKey checks the partner API key format: 31 characters with '_' at index 10.
func ValidateAPIKey(apiKey string) error {
	if len(apiKey) != apiKeyLength || apiKey[apiKeySeparatorIndex] != '_' {
		return fmt.Errorf("%w: invalid API key", ErrInvalidArgument)
	}
	return nil
}

// Client ...
type Client struct {
	client *resty.Client
	logger log.Logger
}

// NewClient creates a client for the API served at server.
func NewClient(apiKey, server string, logger log.Logger) (*Client, error) {
	if err := ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}
	if server == "" {
		return nil, fmt.Errorf("%w: API server must not be empty", ErrInvalidArgument)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(server, "/")).
		SetHeader("x-api-key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetLogger(logger)

	return &Client{client: client, logger: logger}, nil
}

// SetRetries makes the client retry transport failures and 5xx answers count more times.
func (c *Client) SetRetries(count int) *Client {
	c.client.
		SetRetryCount(count).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
		})
	return c
}

// Call posts body as JSON to /partner/{path} and returns the response body text.
func (c *Client) Call(ctx context.Context, path string, body interface{}) (string, error) {
	path = strings.TrimPrefix(path, "/")
	c.logger.Debugf("Calling partner API: %s", path)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/partner/" + path)
	if err != nil {
		return "", fmt.Errorf("partner API %s: %w", path, err)
	}

	if !resp.IsSuccess() {
		return "", &APIError{Path: path, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return resp.String(), nil
}

type webhookRequest struct {
	URL string `json:"url"`
}

// SetWebhook asks the API to POST to webhookURL after each video is processed.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) (string, error) {
	if !strings.HasPrefix(webhookURL, "https://") {
		return "", fmt.Errorf("%w: URL must be a string beginning with https://", ErrInvalidArgument)
	}
	return c.Call(ctx, "webhook/set", webhookRequest{URL: webhookURL})
}

type addVideoByURLRequest struct {
	URL        string   `json:"url"`
	UserEmails []string `json:"userEmails"`
}

// SendVideoURLToDownload asks the API to download and process a publicly reachable .mp4.
// playerEmails are notified when processing is done.
func (c *Client) SendVideoURLToDownload(ctx context.Context, videoURL string, playerEmails []string) (string, error) {
	if !strings.HasPrefix(videoURL, "http") {
		return "", fmt.Errorf("%w: URL must be a string beginning with http", ErrInvalidArgument)
	}
	if !strings.HasSuffix(videoURL, ".mp4") {
		return "", fmt.Errorf("%w: video URL must have the .mp4 extension", ErrInvalidArgument)
	}
	if playerEmails == nil {
		playerEmails = []string{}
	}
	return c.Call(ctx, "add_video_by_url", addVideoByURLRequest{URL: videoURL, UserEmails: playerEmails})
}

type registerUploadRequest struct {
	ObjectName string   `json:"objectName"`
	Bucket     string   `json:"bucket"`
	UserEmails []string `json:"userEmails"`
}

// RegisterUpload announces an upload before its bytes are sent.
func (c *Client) RegisterUpload(ctx context.Context, path, bucket, objectName string, playerEmails []string) error {
	if path == "" {
		return fmt.Errorf("%w: register path must not be empty", ErrInvalidArgument)
	}
	if playerEmails == nil {
		playerEmails = []string{}
	}
	_, err := c.Call(ctx, path, registerUploadRequest{ObjectName: objectName, Bucket: bucket, UserEmails: playerEmails})
	return err
}
