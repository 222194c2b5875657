package resumable

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
)

// Uploader drives resumable upload sessions. It keeps no per-session state,
// so one Uploader can run several uploads concurrently.
type Uploader struct {
	config Config
	client apiClient
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	if config.StorageBaseURL == "" {
		config.StorageBaseURL = DefaultStorageBaseURL
	}

	httpClient := newRetryableClient(retryhttp.NewClient(logger), config.HTTPClient, config.MaxRetryPerRequest)

	return &Uploader{
		config: config,
		client: newAPIClient(httpClient, config.StorageBaseURL, config.AccessToken, config.ContentType, logger),
		logger: logger,
		stats:  NewStats(),
	}
}

// Upload transfers the provider's bytes to bucket/objectName: it opens a session, sends every chunk in order
// and returns once storage has committed the object.
//
// Failures after argument validation are *UploadError values tagged with the phase that failed.
// Cancelling ctx stops the upload between chunks; a chunk already on the wire is allowed to finish.
func (u *Uploader) Upload(ctx context.Context, bucket, objectName string, provider ChunkProvider) (*UploadResult, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket must not be empty", ErrInvalidArgument)
	}
	if objectName == "" {
		return nil, fmt.Errorf("%w: object name must not be empty", ErrInvalidArgument)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: chunk provider must not be nil", ErrInvalidArgument)
	}
	total := provider.Size()
	if total < 0 {
		return nil, fmt.Errorf("%w: negative source size %d", ErrInvalidArgument, total)
	}

	chunkSize := ChunkSize(u.config.ChunkSizeMB)
	chunks := Split(total, chunkSize)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled before start: %w", err)
	}

	session := &Session{
		TargetURL: u.client.initURL(bucket, objectName),
		TotalSize: total,
	}

	u.logger.Debugf("Initializing upload session for %s (%s)", objectName, units.HumanSizeWithPrecision(float64(total), 3))
	sessionURI, err := u.client.initSession(ctx, session.TargetURL, total)
	if err != nil {
		return nil, newUploadError(PhaseInit, nil, err)
	}
	session.SessionURI = sessionURI
	u.logger.Debugf("Session created, sending %d chunks of up to %s", len(chunks), units.BytesSize(float64(chunkSize)))

	if total == 0 {
		if err := u.commitEmpty(ctx, session); err != nil {
			return nil, err
		}
	}

	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("upload cancelled after %d of %d chunks: %w", i, len(chunks), ctx.Err())
		default:
		}

		if err := u.transferChunk(ctx, session, provider, chunk, i == len(chunks)-1, len(chunks)); err != nil {
			return nil, err
		}
	}

	return &UploadResult{
		Bucket:     bucket,
		ObjectName: objectName,
		Size:       total,
		Chunks:     len(chunks),
		SessionURI: session.SessionURI,
	}, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	if transport, ok := u.client.httpClient.HTTPClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func (u *Uploader) transferChunk(ctx context.Context, session *Session, provider ChunkProvider, chunk Chunk, last bool, totalChunks int) error {
	data, err := readChunk(provider, chunk)
	if err != nil {
		return newUploadError(PhaseRead, &chunk, err)
	}

	u.logger.Debugf("Uploading chunk %d/%d [%s] [finished=%d] [avg=%v]",
		chunk.Index+1, totalChunks, chunk.ContentRange(session.TotalSize),
		u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	chunkCtx, cancel := u.chunkContext(ctx)
	defer cancel()

	start := time.Now()
	status, err := u.client.uploadChunk(chunkCtx, session.SessionURI, chunk.ContentRange(session.TotalSize), data)
	if err != nil {
		return newUploadError(PhaseTransmit, &chunk, err)
	}

	switch {
	case status == chunkCommitted && !last:
		return newUploadError(PhaseTransmit, &chunk, errors.New("storage committed the object before the final chunk"))
	case status == chunkIncomplete && last:
		return newUploadError(PhaseTransmit, &chunk, errors.New("storage did not commit the object after the final chunk"))
	}

	took := time.Since(start)
	u.stats.Update(took, chunk.Size())
	session.Cursor = chunk.End + 1

	u.logger.Infof("Chunk %d/%d uploaded in %v (%s of %s)",
		chunk.Index+1, totalChunks, took.Round(time.Millisecond),
		units.HumanSizeWithPrecision(float64(session.Cursor), 3),
		units.HumanSizeWithPrecision(float64(session.TotalSize), 3))

	if u.config.Progress != nil {
		u.config.Progress(session.Cursor, session.TotalSize)
	}
	return nil
}

// readChunk reads the chunk and rejects any source that hands back a different length.
func readChunk(provider ChunkProvider, chunk Chunk) ([]byte, error) {
	data, err := provider.ReadChunk(chunk)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != chunk.Size() {
		return nil, fmt.Errorf("short read for chunk %d: got %d of %d bytes", chunk.Index+1, len(data), chunk.Size())
	}
	return data, nil
}

// commitEmpty finalizes a zero-byte object, which has no byte range to send.
func (u *Uploader) commitEmpty(ctx context.Context, session *Session) error {
	chunkCtx, cancel := u.chunkContext(ctx)
	defer cancel()

	status, err := u.client.uploadChunk(chunkCtx, session.SessionURI, "bytes */0", nil)
	if err != nil {
		return newUploadError(PhaseTransmit, nil, err)
	}
	if status != chunkCommitted {
		return newUploadError(PhaseTransmit, nil, errors.New("storage did not commit the empty object"))
	}
	if u.config.Progress != nil {
		u.config.Progress(0, 0)
	}
	return nil
}

// chunkContext detaches a chunk request from caller cancellation so a chunk is never cut off mid-write.
// ChunkTimeout still bounds it.
func (u *Uploader) chunkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if u.config.ChunkTimeout > 0 {
		return context.WithTimeout(detached, u.config.ChunkTimeout)
	}
	return context.WithCancel(detached)
}

func newUploadError(phase Phase, chunk *Chunk, err error) *UploadError {
	uploadErr := &UploadError{Phase: phase, Chunk: chunk}

	var statusErr *httpError
	if errors.As(err, &statusErr) {
		uploadErr.StatusCode = statusErr.StatusCode
		uploadErr.Body = statusErr.Body
		return uploadErr
	}

	uploadErr.Err = err
	return uploadErr
}
