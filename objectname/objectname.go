// Package objectname builds and checks the signed storage object names used for direct uploads.
//
// A signed name has the form
//
//	<UploaderID>/<UploadID>-<Hash>.<Extension>
//
// where Hash is the hex SHA-256 of signingKey + bucket + the same name with an empty hash.
// Anyone holding the signing key can recompute the hash; nobody else can forge it.
package objectname

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultExtension ...
	DefaultExtension = "mp4"
	// DefaultBucket ...
	DefaultBucket = "default-bucket"

	uploadIDLength = 32
	hashLength     = sha256.Size * 2
)

var (
	// ErrInvalidArgument is returned for inputs that violate the naming preconditions.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMalformedName ...
	ErrMalformedName = errors.New("malformed object name")
	// ErrSignatureMismatch is returned by Verify when the embedded hash was not produced with the given key and bucket.
	ErrSignatureMismatch = errors.New("object name signature mismatch")
)

// SignParams ...
type SignParams struct {
	UploaderID string
	SigningKey string
	// Extension defaults to DefaultExtension. A leading '.' is dropped.
	Extension string
	// Bucket defaults to DefaultBucket.
	Bucket string
	// UploadID is generated when empty. A fixed value makes Sign repeatable, which retries of the naming step rely on.
	UploadID string
}

// Name is a parsed object name.
type Name struct {
	UploaderID string
	UploadID   string
	Hash       string
	Extension  string
}

// String ...
func (n Name) String() string {
	return format(n.UploaderID, n.UploadID, n.Hash, n.Extension)
}

// Sign returns the signed object name for a new upload.
func Sign(p SignParams) (string, error) {
	if err := validateIdentity(p.UploaderID, p.SigningKey); err != nil {
		return "", err
	}

	ext := strings.TrimPrefix(p.Extension, ".")
	if ext == "" {
		ext = DefaultExtension
	}
	if strings.Contains(ext, "/") {
		return "", fmt.Errorf("%w: extension must not contain '/': %q", ErrInvalidArgument, p.Extension)
	}
	bucket := p.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	uploadID := p.UploadID
	if uploadID == "" {
		id, err := NewUploadID()
		if err != nil {
			return "", fmt.Errorf("generate upload id: %w", err)
		}
		uploadID = id
	} else if !isUploadID(uploadID) {
		return "", fmt.Errorf("%w: upload id must be %d lowercase hex characters, got %q", ErrInvalidArgument, uploadIDLength, uploadID)
	}

	hash := computeHash(p.SigningKey, bucket, p.UploaderID, uploadID, ext)
	return format(p.UploaderID, uploadID, hash, ext), nil
}

// Verify checks that name carries a hash produced with signingKey for bucket.
func Verify(name, signingKey, bucket string) error {
	if signingKey == "" {
		return fmt.Errorf("%w: signing key must not be empty", ErrInvalidArgument)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	n, err := Parse(name)
	if err != nil {
		return err
	}

	want := computeHash(signingKey, bucket, n.UploaderID, n.UploadID, n.Extension)
	if subtle.ConstantTimeCompare([]byte(want), []byte(n.Hash)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Parse splits a signed object name into its parts. It does not check the signature.
func Parse(name string) (Name, error) {
	uploaderID, rest, ok := strings.Cut(name, "/")
	if !ok || uploaderID == "" || strings.Contains(rest, "/") {
		return Name{}, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}

	// <upload id>-<hash>.<extension>, where the first two parts have fixed lengths
	if len(rest) < uploadIDLength+1+hashLength+1 || rest[uploadIDLength] != '-' || rest[uploadIDLength+1+hashLength] != '.' {
		return Name{}, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	uploadID := rest[:uploadIDLength]
	hash := rest[uploadIDLength+1 : uploadIDLength+1+hashLength]
	ext := rest[uploadIDLength+1+hashLength+1:]

	if !isUploadID(uploadID) {
		return Name{}, fmt.Errorf("%w: invalid upload id in %q", ErrMalformedName, name)
	}
	if !isLowerHex(hash) {
		return Name{}, fmt.Errorf("%w: invalid hash in %q", ErrMalformedName, name)
	}

	return Name{
		UploaderID: uploaderID,
		UploadID:   uploadID,
		Hash:       hash,
		Extension:  ext,
	}, nil
}

// NewUploadID returns 32 lowercase hex characters taken from a random UUID.
func NewUploadID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func validateIdentity(uploaderID, signingKey string) error {
	if uploaderID == "" {
		return fmt.Errorf("%w: uploader id must not be empty", ErrInvalidArgument)
	}
	if strings.Contains(uploaderID, "/") {
		return fmt.Errorf("%w: uploader id must not contain '/': %q", ErrInvalidArgument, uploaderID)
	}
	if signingKey == "" {
		return fmt.Errorf("%w: signing key must not be empty", ErrInvalidArgument)
	}
	return nil
}

// computeHash hashes signingKey, bucket and the unsigned name, in that order.
func computeHash(signingKey, bucket, uploaderID, uploadID, ext string) string {
	unsigned := format(uploaderID, uploadID, "", ext)

	h := sha256.New()
	h.Write([]byte(signingKey))
	h.Write([]byte(bucket))
	h.Write([]byte(unsigned))
	return hex.EncodeToString(h.Sum(nil))
}

func format(uploaderID, uploadID, hash, ext string) string {
	return fmt.Sprintf("%s/%s-%s.%s", uploaderID, uploadID, hash, ext)
}

func isUploadID(s string) bool {
	return len(s) == uploadIDLength && isLowerHex(s)
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
