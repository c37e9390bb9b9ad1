package object

import (
	"github.com/trackvault/trackvault/internal/hasher"
	"github.com/trackvault/trackvault/internal/util"
)

// Status indicates the state of a blob on disk.
type Status int

const (
	OK Status = iota
	Missing
	Damaged
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Missing:
		return "missing"
	default:
		return "damaged"
	}
}

// Check is the verification result for a single digest.
type Check struct {
	Digest hasher.Digest
	Status Status
	Err    error
}

// VerifyBlob re-hashes one stored blob and compares against its digest.
func (s *Store) VerifyBlob(h *hasher.Hasher, d hasher.Digest) (Status, error) {
	p, err := s.Path(d)
	if err != nil {
		return Damaged, err
	}
	f, err := s.FS.Open(p)
	if err != nil {
		if s.FS.IsNotExist(err) {
			return Missing, nil
		}
		return Damaged, err
	}
	defer f.Close()

	actual, err := h.SumReader(f)
	if err != nil {
		return Damaged, err
	}
	if actual == d {
		return OK, nil
	}
	return Damaged, nil
}

// Verify re-hashes the given digests concurrently and streams results.
// Workers map errors into Status, so every digest in the set is reported.
func (s *Store) Verify(h *hasher.Hasher, digests []hasher.Digest, workers int) <-chan Check {
	out := make(chan Check, 128)
	if workers <= 0 {
		workers = util.WorkerCount()
	}

	go func() {
		defer close(out)
		_ = util.Parallel(digests, workers, func(d hasher.Digest) error {
			status, err := s.VerifyBlob(h, d)
			out <- Check{Digest: d, Status: status, Err: err}
			return nil
		})
	}()

	return out
}

// VerifyAll sweeps every stored blob.
func (s *Store) VerifyAll(h *hasher.Hasher, workers int) (<-chan Check, error) {
	var digests []hasher.Digest
	if err := s.Walk(func(d hasher.Digest) error {
		digests = append(digests, d)
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Verify(h, digests, workers), nil
}
