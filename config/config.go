// Package config selects an environment bundle and reads process configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// Environment variable keys.
const (
	EnvironmentKey        = "PBV_ENVIRONMENT"
	APIKeyKey             = "PBV_API_KEY"
	UploaderIDKey         = "PBV_UPLOADER_ID"
	BucketKey             = "PBV_BUCKET"
	APIURLKey             = "PBV_API_URL"
	StorageURLKey         = "PBV_STORAGE_URL"
	StorageAccessTokenKey = "PBV_STORAGE_ACCESS_TOKEN"
	ChunkSizeKey          = "PBV_CHUNK_SIZE"
	MaxRetriesKey         = "PBV_MAX_RETRIES"
	RegisterPathKey       = "PBV_REGISTER_PATH"
	VerifyEndpointKey     = "PBV_VERIFY_ENDPOINT"
	VerifyAccessKeyIDKey  = "PBV_VERIFY_ACCESS_KEY_ID"
	VerifySecretKey       = "PBV_VERIFY_SECRET"
	DebugKey              = "PBV_DEBUG"
)

const mb = 1024 * 1024

// Secret is a string that is redacted when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Environment is a named bundle of endpoints.
type Environment struct {
	Name           string
	APIServer      string
	StorageBaseURL string
	Bucket         string
	VerifyEndpoint string
	VerifyRegion   string
}

// Production ...
var Production = Environment{
	Name:           "production",
	APIServer:      "https://api-ko3kowqi6a-uc.a.run.app",
	StorageBaseURL: "https://storage.googleapis.com",
	Bucket:         "pbv-uploads",
	VerifyEndpoint: "https://storage.googleapis.com",
	VerifyRegion:   "auto",
}

// Test points at local emulators.
var Test = Environment{
	Name:           "test",
	APIServer:      "http://127.0.0.1:8080",
	StorageBaseURL: "http://127.0.0.1:4443",
	Bucket:         "pbv-uploads-test",
	VerifyEndpoint: "http://127.0.0.1:4443",
	VerifyRegion:   "auto",
}

// LookupEnvironment returns the bundle with the given name. An empty name selects Production.
func LookupEnvironment(name string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Production.Name:
		return Production, nil
	case Test.Name:
		return Test, nil
	default:
		return Environment{}, fmt.Errorf("unknown environment %q, valid values: %s, %s", name, Production.Name, Test.Name)
	}
}

// Config is the full process configuration. It is passed by value into constructors.
type Config struct {
	Environment Environment

	APIKey     Secret
	UploaderID string

	// ChunkSizeMB is the resumable upload target chunk size.
	ChunkSizeMB int
	// MaxRetries is the number of extra attempts per storage request. Zero disables retries.
	MaxRetries int

	StorageAccessToken Secret

	// RegisterPath is the partner API path called before each upload. Empty skips registration.
	RegisterPath string

	VerifyAccessKeyID string
	VerifySecret      Secret

	Debug bool
}

// VerifyEnabled reports whether post-upload verification credentials are configured.
func (c Config) VerifyEnabled() bool {
	return c.VerifyAccessKeyID != "" && c.VerifySecret != ""
}

// Load reads the configuration from the environment.
func Load(envRepo env.Repository) (Config, error) {
	environment, err := LookupEnvironment(envRepo.Get(EnvironmentKey))
	if err != nil {
		return Config{}, err
	}

	if v := envRepo.Get(BucketKey); v != "" {
		environment.Bucket = v
	}
	if v := envRepo.Get(APIURLKey); v != "" {
		environment.APIServer = strings.TrimSuffix(v, "/")
	}
	if v := envRepo.Get(StorageURLKey); v != "" {
		environment.StorageBaseURL = strings.TrimSuffix(v, "/")
	}
	if v := envRepo.Get(VerifyEndpointKey); v != "" {
		environment.VerifyEndpoint = v
	}

	apiKey := envRepo.Get(APIKeyKey)
	if apiKey == "" {
		return Config{}, fmt.Errorf("the secret '%s' is not defined", APIKeyKey)
	}
	uploaderID := envRepo.Get(UploaderIDKey)
	if uploaderID == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not defined", UploaderIDKey)
	}

	chunkSizeMB, err := parseChunkSize(envRepo.Get(ChunkSizeKey))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", ChunkSizeKey, err)
	}

	maxRetries := 0
	if v := envRepo.Get(MaxRetriesKey); v != "" {
		maxRetries, err = strconv.Atoi(v)
		if err != nil || maxRetries < 0 {
			return Config{}, fmt.Errorf("invalid %s: %q is not a non-negative integer", MaxRetriesKey, v)
		}
	}

	return Config{
		Environment:        environment,
		APIKey:             Secret(apiKey),
		UploaderID:         uploaderID,
		ChunkSizeMB:        chunkSizeMB,
		MaxRetries:         maxRetries,
		StorageAccessToken: Secret(envRepo.Get(StorageAccessTokenKey)),
		RegisterPath:       envRepo.Get(RegisterPathKey),
		VerifyAccessKeyID:  envRepo.Get(VerifyAccessKeyIDKey),
		VerifySecret:       Secret(envRepo.Get(VerifySecretKey)),
		Debug:              parseBool(envRepo.Get(DebugKey)),
	}, nil
}

// parseChunkSize accepts human readable sizes ("8MB", "16MiB", "32") and returns whole MiB.
// A bare number is taken as MiB. Empty selects 8.
func parseChunkSize(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 8, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("chunk size must be positive, got %d", n)
		}
		return n, nil
	}

	bytes, err := units.RAMInBytes(value)
	if err != nil {
		return 0, err
	}
	if bytes < mb || bytes%mb != 0 {
		return 0, fmt.Errorf("chunk size must be a positive whole number of MiB, got %s", value)
	}
	return int(bytes / mb), nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
