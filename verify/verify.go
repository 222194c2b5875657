// Package verify checks that a finished upload landed in the bucket with the expected size.
// It talks to the storage S3-compatible XML API with HMAC credentials.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrObjectNotFound ...
var ErrObjectNotFound = errors.New("object not found in bucket")

// ErrSizeMismatch ...
var ErrSizeMismatch = errors.New("object size mismatch")

// Verifier checks a stored object.
type Verifier interface {
	Verify(ctx context.Context, bucket, objectName string, size int64) error
}

// Params ...
type Params struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	NumRetries      int
	RetryWait       time.Duration
}

// S3Verifier ...
type S3Verifier struct {
	client     *s3.Client
	numRetries int
	retryWait  time.Duration
	logger     log.Logger
}

// NewS3Verifier ...
func NewS3Verifier(ctx context.Context, params Params, logger log.Logger) (*S3Verifier, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}
	if params.AccessKeyID == "" || params.SecretAccessKey == "" {
		return nil, fmt.Errorf("access key ID and secret must not be empty")
	}

	cfg, err := loadCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(params.Endpoint)
		o.UsePathStyle = true
	})

	retryWait := params.RetryWait
	if retryWait == 0 {
		retryWait = 2 * time.Second
	}

	return &S3Verifier{
		client:     client,
		numRetries: params.NumRetries,
		retryWait:  retryWait,
		logger:     logger,
	}, nil
}

// Verify fails with ErrObjectNotFound when the object is missing and ErrSizeMismatch when its
// length differs from size. Other errors are retried.
func (v *S3Verifier) Verify(ctx context.Context, bucket, objectName string, size int64) error {
	var length int64
	err := retry.Times(uint(v.numRetries)).Wait(v.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			v.logger.Debugf("Retrying object check, attempt %d", attempt)
		}

		l, err := v.headObject(ctx, bucket, objectName)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) || ctx.Err() != nil {
				return err, true
			}
			v.logger.Debugf("head object %s: %s", objectName, err)
			return err, false
		}

		length = l
		return nil, true
	})
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", bucket, objectName, err)
	}

	if length != size {
		return fmt.Errorf("%w: %s/%s is %d bytes, expected %d", ErrSizeMismatch, bucket, objectName, length, size)
	}

	v.logger.Debugf("Object %s/%s verified (%d bytes)", bucket, objectName, length)
	return nil
}

func (v *S3Verifier) headObject(ctx context.Context, bucket, key string) (int64, error) {
	output, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			switch apiError.(type) {
			case *types.NotFound:
				return 0, ErrObjectNotFound
			default:
				return 0, fmt.Errorf("aws api error: %w", err)
			}
		}
		return 0, fmt.Errorf("generic aws error: %w", err)
	}

	return aws.ToInt64(output.ContentLength), nil
}

func loadCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		region = "auto"
	}

	logger.Debugf("Using static credentials for region %s", region)
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
