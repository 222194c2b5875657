package resumable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument is returned before any I/O when the upload arguments are unusable.
var ErrInvalidArgument = errors.New("invalid argument")

// Phase names the step of the upload that failed.
type Phase string

const (
	// PhaseInit is session initialization. No object exists yet when it fails.
	PhaseInit Phase = "init"
	// PhaseRead is reading a chunk from the local source.
	PhaseRead Phase = "read"
	// PhaseTransmit is sending a chunk. Storage may hold a partial object afterwards,
	// so the object name must not be reused without signing a new one.
	PhaseTransmit Phase = "transmit"
)

// UploadError is returned when an upload fails after argument validation.
type UploadError struct {
	Phase Phase
	// StatusCode and Body carry the storage response when there was one.
	StatusCode int
	Body       string
	// Chunk is set for read and transmit failures.
	Chunk *Chunk
	Err   error
}

// Error ...
func (e *UploadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upload %s failed", e.Phase)
	if e.Chunk != nil {
		fmt.Fprintf(&b, " at chunk %d (bytes %d-%d)", e.Chunk.Index+1, e.Chunk.Start, e.Chunk.End)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

// Unwrap ...
func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsPhase reports whether err is an UploadError of the given phase.
func IsPhase(err error, phase Phase) bool {
	var uploadErr *UploadError
	return errors.As(err, &uploadErr) && uploadErr.Phase == phase
}
