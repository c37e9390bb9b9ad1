package fs

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ZstdFS wraps another FS and transparently compresses file content at rest.
// Used by the object store when the repository is configured with zstd
// compression; project and session files compress well while already-packed
// audio mostly passes through.
type ZstdFS struct {
	underlying FS
	enc        *zstd.Encoder
	dec        *zstd.Decoder
}

func NewZstdFS(base FS) (*ZstdFS, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ZstdFS{underlying: base, enc: enc, dec: dec}, nil
}

func (c *ZstdFS) Open(path string) (io.ReadSeekCloser, error) {
	data, err := c.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &memReadSeekCloser{Reader: bytes.NewReader(data)}, nil
}

func (c *ZstdFS) ReadFile(path string) ([]byte, error) {
	raw, err := c.underlying.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.dec.DecodeAll(raw, nil)
}

func (c *ZstdFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return c.underlying.WriteFile(path, c.enc.EncodeAll(data, nil), perm)
}

// CreateTempFile buffers writes and compresses the whole payload on Close,
// so the temp-then-rename discipline of callers is preserved.
func (c *ZstdFS) CreateTempFile(dir, pattern string) (io.WriteCloser, string, error) {
	w, p, err := c.underlying.CreateTempFile(dir, pattern)
	if err != nil {
		return nil, "", err
	}
	return &zstdTempFile{w: w, enc: c.enc}, p, nil
}

type zstdTempFile struct {
	w   io.WriteCloser
	enc *zstd.Encoder
	buf bytes.Buffer
}

func (t *zstdTempFile) Write(p []byte) (int, error) { return t.buf.Write(p) }

func (t *zstdTempFile) Close() error {
	if _, err := t.w.Write(t.enc.EncodeAll(t.buf.Bytes(), nil)); err != nil {
		t.w.Close()
		return err
	}
	return t.w.Close()
}

// Pass-through for structural operations.
func (c *ZstdFS) MkdirAll(path string, perm os.FileMode) error {
	return c.underlying.MkdirAll(path, perm)
}
func (c *ZstdFS) CreateExclusive(path string, data []byte, perm os.FileMode) error {
	return c.underlying.CreateExclusive(path, c.enc.EncodeAll(data, nil), perm)
}
func (c *ZstdFS) Remove(path string) error    { return c.underlying.Remove(path) }
func (c *ZstdFS) RemoveAll(path string) error { return c.underlying.RemoveAll(path) }
func (c *ZstdFS) Rename(oldPath, newPath string) error {
	return c.underlying.Rename(oldPath, newPath)
}
func (c *ZstdFS) Stat(path string) (os.FileInfo, error)      { return c.underlying.Stat(path) }
func (c *ZstdFS) ReadDir(path string) ([]os.DirEntry, error) { return c.underlying.ReadDir(path) }
func (c *ZstdFS) IsNotExist(err error) bool                  { return c.underlying.IsNotExist(err) }
func (c *ZstdFS) Exists(path string) bool                    { return c.underlying.Exists(path) }
func (c *ZstdFS) IsDir(path string) bool                     { return c.underlying.IsDir(path) }
