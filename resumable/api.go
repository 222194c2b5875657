package resumable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodyBytes = 4096

// statusResumeIncomplete is what storage answers to an accepted, non-final chunk.
const statusResumeIncomplete = http.StatusPermanentRedirect

type chunkStatus int

const (
	chunkIncomplete chunkStatus = iota
	chunkCommitted
)

// httpError is a non-success storage response.
type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type apiClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	contentType string
	logger      log.Logger
}

func newAPIClient(client *retryablehttp.Client, baseURL, accessToken, contentType string, logger log.Logger) apiClient {
	return apiClient{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		contentType: contentType,
		logger:      logger,
	}
}

func (c apiClient) initURL(bucket, objectName string) string {
	query := url.Values{}
	query.Set("uploadType", "resumable")
	query.Set("name", objectName)
	return fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", c.baseURL, url.PathEscape(bucket), query.Encode())
}

// initSession starts a resumable session for an object of the given size and returns the session URI.
func (c apiClient) initSession(ctx context.Context, targetURL string, size int64) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, targetURL, nil)
	if err != nil {
		return "", err
	}
	c.setAuthorization(req)
	req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", size))
	if c.contentType != "" {
		req.Header.Set("X-Upload-Content-Type", c.contentType)
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Init request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", unwrapError(resp)
	}

	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", fmt.Errorf("no Location in response (HTTP %d)", resp.StatusCode)
	}

	return sessionURI, nil
}

// uploadChunk sends one chunk to the session and reports whether storage committed the object.
func (c apiClient) uploadChunk(ctx context.Context, sessionURI string, contentRange string, data []byte) (chunkStatus, error) {
	var body interface{}
	if len(data) > 0 {
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, sessionURI, body)
	if err != nil {
		return 0, err
	}
	c.setAuthorization(req)
	req.Header.Set("Content-Range", contentRange)

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.ContentLength = int64(len(data))

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer c.closeBody(resp.Body)

	switch resp.StatusCode {
	case statusResumeIncomplete:
		c.logger.Debugf("Storage acknowledged range: %s", resp.Header.Get("Range"))
		return chunkIncomplete, nil
	case http.StatusOK, http.StatusCreated:
		return chunkCommitted, nil
	default:
		return 0, unwrapError(resp)
	}
}

func (c apiClient) setAuthorization(req *retryablehttp.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	}
}

func (c apiClient) closeBody(body io.ReadCloser) {
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return err
	}
	return &httpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errorResp))}
}

// newRetryableClient configures client for the resumable protocol: a bounded number of retries,
// the last response handed back instead of an opaque error, and no redirect following,
// since 308 means "resume incomplete" here.
func newRetryableClient(client *retryablehttp.Client, httpClient *http.Client, maxRetries int) *retryablehttp.Client {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	hc := *httpClient
	client.HTTPClient = &hc
	client.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	client.RetryMax = maxRetries
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}
