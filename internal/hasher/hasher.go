// Package hasher computes content-identifying digests of byte streams.
// Content is streamed in bounded chunks so multi-gigabyte audio renders never
// have to fit in memory.
package hasher

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"crypto/sha256"

	"github.com/zeebo/xxh3"
	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"

	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/fs"
)

const (
	bufSize = 1 * 1024 * 1024 // 1 MiB streaming read buffer

	// Files at or above this size are read through mmap when hashing from
	// the real filesystem.
	mmapThreshold = 64 * 1024 * 1024
)

// Digest is a lower-hex content digest. Two byte streams with equal digests
// are treated as identical content.
type Digest string

func (d Digest) String() string { return string(d) }

// Valid reports whether d looks like a well-formed hex digest.
func (d Digest) Valid() bool {
	if len(d) == 0 {
		return false
	}
	_, err := hex.DecodeString(string(d))
	return err == nil
}

// FileHasher is the surface the snapshot layer depends on; tests substitute
// counting implementations.
type FileHasher interface {
	SumFile(path string) (Digest, error)
}

// Hasher produces digests with a fixed algorithm over a filesystem.
type Hasher struct {
	algo string
	fsys fs.FS
}

// New returns a Hasher for the given algorithm ("xxh3", "sha256", "blake3").
func New(algo string, fsys fs.FS) (*Hasher, error) {
	switch algo {
	case config.HashXXH3, config.HashSHA256, config.HashBlake3:
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algo)
	}
	return &Hasher{algo: algo, fsys: fsys}, nil
}

func (h *Hasher) Algorithm() string { return h.algo }

func (h *Hasher) newHash() hash.Hash {
	switch h.algo {
	case config.HashSHA256:
		return sha256.New()
	case config.HashBlake3:
		return blake3.New(32, nil)
	default:
		return xxh3.New()
	}
}

func (h *Hasher) finalize(hs hash.Hash) Digest {
	if x, ok := hs.(*xxh3.Hasher); ok {
		b := x.Sum128().Bytes()
		return Digest(hex.EncodeToString(b[:]))
	}
	return Digest(hex.EncodeToString(hs.Sum(nil)))
}

// SumReader streams r to completion and returns its digest. A short or failed
// read returns an error and never a partial digest.
func (h *Hasher) SumReader(r io.Reader) (Digest, error) {
	hs := h.newHash()
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			hs.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return h.finalize(hs), nil
}

// SumBytes digests an in-memory payload.
func (h *Hasher) SumBytes(data []byte) Digest {
	hs := h.newHash()
	hs.Write(data)
	return h.finalize(hs)
}

// SumFile digests the content of path. Large files on the real filesystem go
// through mmap; everything else uses the streaming path.
func (h *Hasher) SumFile(path string) (Digest, error) {
	fi, err := h.fsys.Stat(path)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}

	if _, isOS := h.fsys.(*fs.OSFS); isOS && fi.Size() >= mmapThreshold {
		d, err := h.sumMapped(path, fi.Size())
		if err != nil {
			return "", fmt.Errorf("hash %q: %w", path, err)
		}
		return d, nil
	}

	f, err := h.fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	defer f.Close()

	d, err := h.SumReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return d, nil
}

// sumMapped reads the file through a memory map in bounded chunks.
func (h *Hasher) sumMapped(path string, size int64) (Digest, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	hs := h.newHash()
	buf := make([]byte, bufSize)
	for off := int64(0); off < size; off += int64(len(buf)) {
		chunk := buf
		if remaining := size - off; remaining < int64(len(buf)) {
			chunk = buf[:remaining]
		}
		if _, err := r.ReadAt(chunk, off); err != nil {
			return "", err
		}
		hs.Write(chunk)
	}
	return h.finalize(hs), nil
}

// FilesIdentical reports whether two files hold byte-identical content.
func (h *Hasher) FilesIdentical(a, b string) (bool, error) {
	da, err := h.SumFile(a)
	if err != nil {
		return false, err
	}
	db, err := h.SumFile(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
