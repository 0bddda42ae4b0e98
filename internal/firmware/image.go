package firmware

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source is a random-access firmware image of known size. *Image and
// *bytes.Reader both satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Image is a firmware file opened for an upgrade.
type Image struct {
	f    *os.File
	path string
	size int64
}

var _ Source = (*Image)(nil)

func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open firmware image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat firmware image: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open firmware image: %s is a directory", path)
	}

	return &Image{f: f, path: path, size: info.Size()}, nil
}

func (i *Image) Path() string { return i.path }

func (i *Image) Size() int64 { return i.size }

func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	return i.f.ReadAt(p, off)
}

func (i *Image) Close() error {
	return i.f.Close()
}

// SHA256 hashes the whole image without moving any read offset.
func (i *Image) SHA256() (string, error) {
	return HashFile(io.NewSectionReader(i.f, 0, i.size))
}

func HashFile(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// TotalBlocks is the number of data blocks the device expects for an image
// of size bytes: one per started page plus one.
func TotalBlocks(size int64, pageSize int) int {
	if pageSize <= 0 || size < 0 {
		return 0
	}
	return int(size/int64(pageSize)) + 1
}

// ReadPage returns the payload of data block `block` (counted from 1). The
// last page may be short; a page starting at or past the end is empty.
func ReadPage(src Source, block, pageSize int) ([]byte, error) {
	if block < 1 || pageSize <= 0 {
		return nil, fmt.Errorf("invalid page %d of size %d", block, pageSize)
	}

	offset := int64(block-1) * int64(pageSize)
	remaining := src.Size() - offset
	if remaining <= 0 {
		return []byte{}, nil
	}

	n := int64(pageSize)
	if remaining < n {
		n = remaining
	}

	data := make([]byte, n)
	read, err := src.ReadAt(data, offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
		return nil, fmt.Errorf("read page %d: %w", block, err)
	}
	return data, nil
}
