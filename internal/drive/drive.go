// Package drive defines the capabilities the uploader needs from a remote
// content-addressed drive, and a registry of the backends implementing them.
package drive

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/NamanBalaji/duld/internal/config"
)

var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrUnknownBackend = errors.New("unknown drive backend")
)

// Node is a remote file or directory as seen through the local metadata cache.
type Node struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parentId"`
	Name        string    `json:"name"`
	IsDirectory bool      `json:"isDirectory"`
	IsTrashed   bool      `json:"isTrashed"`
	Hash        string    `json:"hash,omitempty"`
	Size        int64     `json:"size"`
	MTime       time.Time `json:"mtime"`
}

// Live reports whether the node exists and is not trashed.
func (n *Node) Live() bool {
	return n != nil && !n.IsTrashed
}

// Change is one reconciliation event produced by Sync.
type Change struct {
	Node    Node
	Removed bool
}

// Drive is a remote store with a local metadata cache.
type Drive interface {
	// GetNodeByPath looks up a node by its absolute remote path.
	GetNodeByPath(ctx context.Context, path string) (*Node, error)
	// GetChildByName returns ErrNodeNotFound when parent has no child called name.
	GetChildByName(ctx context.Context, parent *Node, name string) (*Node, error)
	CreateDirectory(ctx context.Context, parent *Node, name string) (*Node, error)
	// UploadFile stores the local file under parent and returns the new node.
	UploadFile(ctx context.Context, localPath string, parent *Node) (*Node, error)
	// ResolvePath returns the absolute path of a cached node, or ErrNodeNotFound
	// when the cache does not know it yet.
	ResolvePath(ctx context.Context, id string) (string, error)
	// Sync reconciles the cache with the remote and yields each change.
	Sync(ctx context.Context) iter.Seq2[Change, error]
	// NewHasher returns a hash state matching the digests reported in Node.Hash.
	NewHasher() hash.Hash
	Close() error
}

// Factory builds a Drive from its configuration section.
type Factory func(ctx context.Context, cfg *config.DriveConfig) (Drive, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on duplicates.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[kind]; dup {
		panic("drive: Register called twice for backend " + kind)
	}
	registry[kind] = factory
}

// New builds the backend selected by cfg.Type.
func New(ctx context.Context, cfg *config.DriveConfig) (Drive, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}

	return factory(ctx, cfg)
}

// Backends lists the registered backend kinds.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return kinds
}
