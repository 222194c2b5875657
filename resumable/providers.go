package resumable

import (
	"fmt"
	"io"
	"os"
)

// FileChunkProvider reads chunks from a file on disk.
// The file is opened per chunk and closed as soon as the chunk is read, so no descriptor outlives a chunk.
type FileChunkProvider struct {
	path string
	size int64
}

// NewFileChunkProvider creates a ChunkProvider that reads from a file.
func NewFileChunkProvider(path string) (*FileChunkProvider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileChunkProvider{
		path: path,
		size: info.Size(),
	}, nil
}

// Path ...
func (p *FileChunkProvider) Path() string {
	return p.path
}

// Size returns the file size observed when the provider was created.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// ReadChunk opens the file read-only and reads exactly the chunk's range.
func (p *FileChunkProvider) ReadChunk(chunk Chunk) ([]byte, error) {
	if err := checkBounds(chunk, p.size); err != nil {
		return nil, err
	}

	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	return readSection(file, chunk)
}

// ReaderAtChunkProvider provides chunks from any io.ReaderAt of known size.
// Useful when the data is already in memory.
type ReaderAtChunkProvider struct {
	r    io.ReaderAt
	size int64
}

// NewReaderAtChunkProvider ...
func NewReaderAtChunkProvider(r io.ReaderAt, size int64) *ReaderAtChunkProvider {
	return &ReaderAtChunkProvider{r: r, size: size}
}

// Size ...
func (p *ReaderAtChunkProvider) Size() int64 {
	return p.size
}

// ReadChunk ...
func (p *ReaderAtChunkProvider) ReadChunk(chunk Chunk) ([]byte, error) {
	if err := checkBounds(chunk, p.size); err != nil {
		return nil, err
	}
	return readSection(p.r, chunk)
}

func checkBounds(chunk Chunk, size int64) error {
	if chunk.Start < 0 || chunk.End < chunk.Start || chunk.End >= size {
		return fmt.Errorf("chunk %d range [%d, %d] out of bounds for size %d", chunk.Index+1, chunk.Start, chunk.End, size)
	}
	return nil
}

func readSection(r io.ReaderAt, chunk Chunk) ([]byte, error) {
	data := make([]byte, chunk.Size())
	n, err := io.ReadFull(io.NewSectionReader(r, chunk.Start, chunk.Size()), data)
	if err != nil {
		return nil, fmt.Errorf("read chunk %d: got %d of %d bytes: %w", chunk.Index+1, n, len(data), err)
	}
	return data, nil
}
