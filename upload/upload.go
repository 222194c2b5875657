// Package upload signs an object name for a local video and transfers the file to the configured bucket.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/pbvision/pbv-upload/config"
	"github.com/pbvision/pbv-upload/objectname"
	"github.com/pbvision/pbv-upload/partner"
	"github.com/pbvision/pbv-upload/resumable"
	"github.com/pbvision/pbv-upload/verify"
)

// Registrar announces an upload before its bytes are sent.
type Registrar interface {
	RegisterUpload(ctx context.Context, path, bucket, objectName string, playerEmails []string) error
}

// StorageUploader transfers a byte source to bucket/objectName.
type StorageUploader interface {
	Upload(ctx context.Context, bucket, objectName string, provider resumable.ChunkProvider) (*resumable.UploadResult, error)
}

// Params ...
type Params struct {
	FilePath string
	// Extension overrides the one taken from FilePath. Without either, mp4 is used.
	Extension string
	// UploadID is generated when empty.
	UploadID     string
	PlayerEmails []string
}

// Result ...
type Result struct {
	ObjectName string
	Bucket     string
	Size       int64
	Chunks     int
	Duration   time.Duration
}

// Option ...
type Option func(*Uploader)

// WithRegistrar replaces the partner API registration step.
func WithRegistrar(registrar Registrar) Option {
	return func(u *Uploader) {
		u.registrar = registrar
	}
}

// WithVerifier replaces the post-upload object check.
func WithVerifier(verifier verify.Verifier) Option {
	return func(u *Uploader) {
		u.verifier = verifier
	}
}

// WithStorageUploader replaces the resumable storage uploader.
func WithStorageUploader(storage StorageUploader) Option {
	return func(u *Uploader) {
		u.storage = storage
	}
}

// WithProgress reports acknowledged bytes of every upload.
func WithProgress(progress func(sent, total int64)) Option {
	return func(u *Uploader) {
		u.progress = progress
	}
}

// Uploader ...
type Uploader struct {
	config    config.Config
	logger    log.Logger
	registrar Registrar
	verifier  verify.Verifier
	storage   StorageUploader
	stats     *resumable.Stats
	progress  func(sent, total int64)
}

// NewUploader wires the collaborators described by cfg. Registration runs only when cfg.RegisterPath is set
// and verification only when cfg.VerifyEnabled(). Options override any of them.
func NewUploader(ctx context.Context, cfg config.Config, logger log.Logger, opts ...Option) (*Uploader, error) {
	if cfg.UploaderID == "" {
		return nil, fmt.Errorf("uploader ID must not be empty")
	}
	// the API key doubles as the object name signing key
	if err := partner.ValidateAPIKey(string(cfg.APIKey)); err != nil {
		return nil, err
	}

	u := &Uploader{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(u)
	}

	if u.storage == nil {
		storageConfig := resumable.DefaultConfig()
		storageConfig.StorageBaseURL = cfg.Environment.StorageBaseURL
		storageConfig.ChunkSizeMB = cfg.ChunkSizeMB
		storageConfig.AccessToken = string(cfg.StorageAccessToken)
		storageConfig.MaxRetryPerRequest = cfg.MaxRetries
		storageConfig.Progress = u.progress
		storage := resumable.New(storageConfig, logger)
		u.storage = storage
		u.stats = storage.Stats()
	}

	if u.registrar == nil && cfg.RegisterPath != "" {
		client, err := partner.NewClient(string(cfg.APIKey), cfg.Environment.APIServer, logger)
		if err != nil {
			return nil, fmt.Errorf("create partner client: %w", err)
		}
		u.registrar = client.SetRetries(cfg.MaxRetries)
	}

	if u.verifier == nil && cfg.VerifyEnabled() {
		verifier, err := verify.NewS3Verifier(ctx, verify.Params{
			Endpoint:        cfg.Environment.VerifyEndpoint,
			Region:          cfg.Environment.VerifyRegion,
			AccessKeyID:     cfg.VerifyAccessKeyID,
			SecretAccessKey: string(cfg.VerifySecret),
			NumRetries:      cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create verifier: %w", err)
		}
		u.verifier = verifier
	}

	return u, nil
}

// Upload signs an object name for the file and sends it to the configured bucket.
func (u *Uploader) Upload(ctx context.Context, params Params) (*Result, error) {
	if params.FilePath == "" {
		return nil, fmt.Errorf("%w: file path must not be empty", resumable.ErrInvalidArgument)
	}

	provider, err := resumable.NewFileChunkProvider(params.FilePath)
	if err != nil {
		return nil, err
	}

	bucket := u.config.Environment.Bucket
	name, err := objectname.Sign(objectname.SignParams{
		UploaderID: u.config.UploaderID,
		SigningKey: string(u.config.APIKey),
		Extension:  extension(params),
		Bucket:     bucket,
		UploadID:   params.UploadID,
	})
	if err != nil {
		return nil, fmt.Errorf("sign object name: %w", err)
	}
	if bucket == "" {
		bucket = objectname.DefaultBucket
	}

	u.logger.Infof("Uploading %s (%s) as %s", filepath.Base(params.FilePath), units.HumanSizeWithPrecision(float64(provider.Size()), 3), name)

	if u.registrar != nil {
		if err := u.registrar.RegisterUpload(ctx, u.config.RegisterPath, bucket, name, params.PlayerEmails); err != nil {
			return nil, fmt.Errorf("register upload: %w", err)
		}
		u.logger.Debugf("Upload registered")
	}

	start := time.Now()
	storageResult, err := u.storage.Upload(ctx, bucket, name, provider)
	if err != nil {
		var uploadErr *resumable.UploadError
		if errors.As(err, &uploadErr) {
			u.logger.Errorf("Upload of %s failed during %s", name, uploadErr.Phase)
		}
		return nil, err
	}
	took := time.Since(start)

	if u.verifier != nil {
		if err := u.verifier.Verify(ctx, bucket, name, provider.Size()); err != nil {
			return nil, fmt.Errorf("verify upload: %w", err)
		}
	}

	u.logger.Donef("Uploaded %s in %s", name, took.Round(time.Millisecond))

	return &Result{
		ObjectName: name,
		Bucket:     bucket,
		Size:       storageResult.Size,
		Chunks:     storageResult.Chunks,
		Duration:   took,
	}, nil
}

// Stats returns the chunk counters of the built-in storage uploader, shared by all uploads.
// It is nil when the storage uploader was replaced with WithStorageUploader.
func (u *Uploader) Stats() *resumable.Stats {
	return u.stats
}

func extension(params Params) string {
	if params.Extension != "" {
		return strings.TrimPrefix(params.Extension, ".")
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(params.FilePath), "."))
}
