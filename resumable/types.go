// Package resumable uploads a file to object storage over the resumable upload protocol.
// Chunks are sent strictly in order, one at a time, with at most one chunk held in memory.
package resumable

import (
	"fmt"
)

// Chunk is the inclusive byte range [Start, End] of the source sent in a single request.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Size returns the number of bytes in the chunk.
func (c Chunk) Size() int64 {
	return c.End - c.Start + 1
}

// ContentRange returns the Content-Range header value for the chunk of an object with the given total size.
func (c Chunk) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", c.Start, c.End, total)
}

// Split partitions [0, total-1] into consecutive chunks of chunkSize bytes; the last one may be shorter.
func Split(total, chunkSize int64) []Chunk {
	if total <= 0 || chunkSize <= 0 {
		return nil
	}

	count := total / chunkSize
	if total%chunkSize != 0 {
		count++
	}

	chunks := make([]Chunk, 0, count)
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize - 1
		if end > total-1 {
			end = total - 1
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks
}

// ChunkProvider supplies the bytes of the object being uploaded.
// Implementations can read from files, memory buffers or anything addressable by offset.
type ChunkProvider interface {
	// Size returns the total length of the source in bytes.
	Size() int64

	// ReadChunk returns exactly chunk.Size() bytes starting at chunk.Start.
	// A short read is an error.
	ReadChunk(chunk Chunk) ([]byte, error)
}

// Session is the state of one resumable transfer. It lives only as long as the upload call.
type Session struct {
	// TargetURL is the session initialization endpoint.
	TargetURL string
	// SessionURI is the opaque upload handle returned by storage.
	SessionURI string
	TotalSize  int64
	// Cursor is the offset of the next byte to send.
	Cursor int64
}

// UploadResult describes a committed object.
type UploadResult struct {
	Bucket     string
	ObjectName string
	Size       int64
	Chunks     int
	SessionURI string
}
