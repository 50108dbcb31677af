package objectstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/duld/internal/drive"
)

const (
	nodesBucket    = "nodes"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// cache is the bbolt mirror of the bucket layout, keyed by node ID.
type cache struct {
	db *bbolt.DB
}

func openCache(dbPath string) (*cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	c := &cache{db: db}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *cache) initialize() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		nodes, err := tx.CreateBucketIfNotExists([]byte(nodesBucket))
		if err != nil {
			return fmt.Errorf("failed to create nodes bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		if nodes.Get([]byte(rootID)) == nil {
			return putNode(nodes, rootNode())
		}

		return nil
	})
}

func (c *cache) get(id string) (*drive.Node, error) {
	var node *drive.Node

	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(nodesBucket)).Get([]byte(id))
		if data == nil {
			return drive.ErrNodeNotFound
		}

		node = &drive.Node{}
		if err := json.Unmarshal(data, node); err != nil {
			return fmt.Errorf("failed to unmarshal node %s: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

func (c *cache) put(node *drive.Node) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return putNode(tx.Bucket([]byte(nodesBucket)), node)
	})
}

// replace makes the cache hold exactly remote and returns what changed.
func (c *cache) replace(remote map[string]*drive.Node) ([]drive.Change, error) {
	var changes []drive.Change

	err := c.db.Update(func(tx *bbolt.Tx) error {
		nodes := tx.Bucket([]byte(nodesBucket))

		var stale [][]byte
		err := nodes.ForEach(func(k, v []byte) error {
			if _, ok := remote[string(k)]; ok {
				return nil
			}

			var old drive.Node
			if err := json.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("failed to unmarshal node %s: %w", k, err)
			}

			stale = append(stale, append([]byte(nil), k...))
			changes = append(changes, drive.Change{Node: old, Removed: true})

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := nodes.Delete(k); err != nil {
				return fmt.Errorf("failed to delete node %s: %w", k, err)
			}
		}

		for id, node := range remote {
			if data := nodes.Get([]byte(id)); data != nil {
				var old drive.Node
				if err := json.Unmarshal(data, &old); err == nil && sameContent(&old, node) {
					continue
				}
			}

			if err := putNode(nodes, node); err != nil {
				return err
			}
			changes = append(changes, drive.Change{Node: *node})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

func (c *cache) close() error {
	return c.db.Close()
}

func putNode(b *bbolt.Bucket, node *drive.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	if err := b.Put([]byte(node.ID), data); err != nil {
		return fmt.Errorf("failed to save node %s: %w", node.ID, err)
	}

	return nil
}

func sameContent(a, b *drive.Node) bool {
	return a.IsDirectory == b.IsDirectory && a.Hash == b.Hash && a.Size == b.Size && a.ParentID == b.ParentID
}
