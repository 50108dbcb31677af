// Package hasher computes file digests on a bounded pool of goroutines so
// large files never block the goroutine driving an upload.
package hasher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"sync"
)

// ChunkSize is the read size used while streaming a file through a hash.
const ChunkSize = 64 * 1024

var ErrClosed = errors.New("hasher is closed")

// HashFunc returns a fresh hash state. Drives supply the one their remote digest uses.
type HashFunc func() hash.Hash

type result struct {
	sum string
	err error
}

type job struct {
	ctx     context.Context
	path    string
	newHash HashFunc
	out     chan<- result
}

// Pool is a fixed set of hashing workers.
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool of n workers. n <= 0 means one worker per CPU.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pool{jobs: make(chan job)}

	p.wg.Add(n)
	for range n {
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	for j := range p.jobs {
		sum, err := File(j.ctx, j.path, j.newHash)
		j.out <- result{sum: sum, err: err}
	}
}

// Hash returns the hex digest of the file at path, computed on a pool worker.
func (p *Pool) Hash(ctx context.Context, path string, newHash HashFunc) (string, error) {
	out := make(chan result, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return "", ErrClosed
	}

	select {
	case p.jobs <- job{ctx: ctx, path: path, newHash: newHash, out: out}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return "", ctx.Err()
	}

	select {
	case r := <-out:
		return r.sum, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Verify reports whether the local file digests to remoteHash.
// The comparison is byte-exact.
func (p *Pool) Verify(ctx context.Context, path, remoteHash string, newHash HashFunc) (bool, error) {
	sum, err := p.Hash(ctx, path, newHash)
	if err != nil {
		return false, err
	}

	return sum == remoteHash, nil
}

// Close stops accepting work and waits for in-flight hashes to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// File streams path through a new hash in ChunkSize reads and returns the hex digest.
func File(ctx context.Context, path string, newHash HashFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHash()
	buf := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
