package resumable

import (
	"net/http"
	"time"
)

const (
	// MinimumChunkBytes is the smallest chunk storage accepts for a non-final chunk.
	// Non-final chunks must also be a multiple of it.
	MinimumChunkBytes int64 = 256 * 1024

	// DefaultChunkSizeMB ...
	DefaultChunkSizeMB = 8

	// DefaultStorageBaseURL ...
	DefaultStorageBaseURL = "https://storage.googleapis.com"

	// DefaultContentType ...
	DefaultContentType = "video/mp4"

	mb = 1024 * 1024
)

// Config holds configuration for the resumable uploader.
type Config struct {
	// StorageBaseURL is the storage endpoint the session is initialized against.
	// Default: https://storage.googleapis.com
	StorageBaseURL string

	// ChunkSizeMB is the target chunk size in MiB. The effective size never drops below MinimumChunkBytes.
	// Default: 8
	ChunkSizeMB int

	// ContentType is declared for the object on session initialization.
	// Default: video/mp4
	ContentType string

	// AccessToken is sent as a bearer token when set.
	AccessToken string

	// MaxRetryPerRequest is the number of extra attempts for a failed init or chunk request.
	// Default: 0, a failed request fails the upload.
	MaxRetryPerRequest int

	// ChunkTimeout bounds a single chunk request. Zero means no timeout.
	// Default: 5 minutes
	ChunkTimeout time.Duration

	// Progress is called after every acknowledged chunk with the bytes committed so far.
	Progress func(sent, total int64)

	// HTTPClient is the HTTP client to use for uploads. It is copied, never modified.
	// If nil, DefaultHTTPClient() is used.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StorageBaseURL:     DefaultStorageBaseURL,
		ChunkSizeMB:        DefaultChunkSizeMB,
		ContentType:        DefaultContentType,
		MaxRetryPerRequest: 0,
		ChunkTimeout:       5 * time.Minute,
		HTTPClient:         nil, // Will be created by Uploader
	}
}

// ChunkSize returns the effective chunk size for a target size in MiB.
func ChunkSize(targetMB int) int64 {
	size := int64(targetMB) * mb
	if size < MinimumChunkBytes {
		return MinimumChunkBytes
	}
	return size
}

// DefaultHTTPClient creates an HTTP client for chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - individual chunk timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
