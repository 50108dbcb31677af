// Package objectstore implements drive.Drive over a flat object store.
//
// Directories are kept as zero-length marker objects whose key ends in "/".
// Node IDs are absolute remote paths, so the root is "/" and a node's parent
// is path.Dir of its ID. Objects never go to a trash, so nodes are never trashed.
package objectstore

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/logger"
)

const rootID = "/"

var ErrInvalidName = errors.New("invalid node name")

// Drive mirrors the objects under one bucket prefix.
type Drive struct {
	bucket Bucket
	prefix string
	cache  *cache
}

var _ drive.Drive = (*Drive)(nil)

// New opens the metadata cache at cachePath and returns a drive over bucket.
// Only keys under prefix are visible.
func New(bucket Bucket, prefix, cachePath string) (*Drive, error) {
	c, err := openCache(cachePath)
	if err != nil {
		return nil, err
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Drive{
		bucket: bucket,
		prefix: prefix,
		cache:  c,
	}, nil
}

func rootNode() *drive.Node {
	return &drive.Node{ID: rootID, IsDirectory: true}
}

func (d *Drive) GetNodeByPath(ctx context.Context, p string) (*drive.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return d.cache.get(path.Clean("/" + p))
}

func (d *Drive) GetChildByName(ctx context.Context, parent *drive.Node, name string) (*drive.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validName(name); err != nil {
		return nil, err
	}

	return d.cache.get(path.Join(parent.ID, name))
}

func (d *Drive) CreateDirectory(ctx context.Context, parent *drive.Node, name string) (*drive.Node, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	id := path.Join(parent.ID, name)

	obj, err := d.bucket.Put(ctx, d.key(id)+"/", strings.NewReader(""), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", id, err)
	}

	node := &drive.Node{
		ID:          id,
		ParentID:    parent.ID,
		Name:        name,
		IsDirectory: true,
		MTime:       obj.Updated,
	}

	if err := d.cache.put(node); err != nil {
		return nil, err
	}

	logger.Debugf("Created directory %s", id)

	return node, nil
}

func (d *Drive) UploadFile(ctx context.Context, localPath string, parent *drive.Node) (*drive.Node, error) {
	name := filepath.Base(localPath)
	if err := validName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	id := path.Join(parent.ID, name)

	obj, err := d.bucket.Put(ctx, d.key(id), f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", id, err)
	}

	node := &drive.Node{
		ID:       id,
		ParentID: parent.ID,
		Name:     name,
		Hash:     obj.MD5,
		Size:     obj.Size,
		MTime:    obj.Updated,
	}

	if err := d.cache.put(node); err != nil {
		return nil, err
	}

	logger.Debugf("Uploaded %s as %s (%d bytes)", localPath, id, obj.Size)

	return node, nil
}

func (d *Drive) ResolvePath(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	node, err := d.cache.get(id)
	if err != nil {
		return "", err
	}

	return node.ID, nil
}

// Sync lists the whole prefix and replaces the cache with what it finds.
// Changes are yielded in ID order.
func (d *Drive) Sync(ctx context.Context) iter.Seq2[drive.Change, error] {
	return func(yield func(drive.Change, error) bool) {
		remote, err := d.listRemote(ctx)
		if err != nil {
			yield(drive.Change{}, err)
			return
		}

		changes, err := d.cache.replace(remote)
		if err != nil {
			yield(drive.Change{}, err)
			return
		}

		slices.SortFunc(changes, func(a, b drive.Change) int {
			return strings.Compare(a.Node.ID, b.Node.ID)
		})

		for _, c := range changes {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (d *Drive) NewHasher() hash.Hash {
	return md5.New()
}

func (d *Drive) Close() error {
	return errors.Join(d.cache.close(), d.bucket.Close())
}

func (d *Drive) listRemote(ctx context.Context) (map[string]*drive.Node, error) {
	nodes := map[string]*drive.Node{rootID: rootNode()}

	for obj, err := range d.bucket.List(ctx, d.prefix) {
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		rel := strings.TrimPrefix(obj.Key, d.prefix)
		if rel == "" || rel == "/" {
			continue
		}

		isDir := strings.HasSuffix(rel, "/")
		id := path.Clean("/" + rel)

		node := &drive.Node{
			ID:          id,
			ParentID:    path.Dir(id),
			Name:        path.Base(id),
			IsDirectory: isDir,
			MTime:       obj.Updated,
		}
		if !isDir {
			node.Hash = obj.MD5
			node.Size = obj.Size
		}
		nodes[id] = node

		// keys imply their ancestors even without marker objects
		for dir := path.Dir(id); dir != rootID; dir = path.Dir(dir) {
			if _, ok := nodes[dir]; ok {
				break
			}
			nodes[dir] = &drive.Node{
				ID:          dir,
				ParentID:    path.Dir(dir),
				Name:        path.Base(dir),
				IsDirectory: true,
			}
		}
	}

	return nodes, nil
}

func (d *Drive) key(id string) string {
	return d.prefix + strings.TrimPrefix(id, "/")
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
