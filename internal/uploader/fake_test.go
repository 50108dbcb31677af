package uploader_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/exclude"
)

var errNetwork = errors.New("connection reset by peer")

// fakeDrive is an in-memory drive.Drive. IDs are opaque so paths have to go
// through ResolvePath like they do against a real backend.
type fakeDrive struct {
	mu       sync.Mutex
	nodes    map[string]*drive.Node
	children map[string]string // parentID + "/" + name -> id
	nextID   int
	pending  []drive.Change

	// uploadErrs pops one error per upload attempt of the named file.
	uploadErrs map[string][]error
	// uploadHash overrides the hash reported for an uploaded file name.
	uploadHash map[string]string
	// corruptUploads reports a wrong hash for this many successful uploads of a name.
	corruptUploads map[string]int
	// resolveLag makes ResolvePath miss freshly created directories this many times.
	resolveLag map[string]int
	// resolveErr makes ResolvePath fail for the named node.
	resolveErr map[string]error
	syncErr    error
	// onUpload runs before each upload; tests use it to block or cancel.
	onUpload func(name string)

	syncs        atomic.Int32
	inSync       atomic.Int32
	maxInSync    atomic.Int32
	uploads      map[string]int
	creates      map[string]int
	childLookups map[string]int
}

func newFakeDrive() *fakeDrive {
	d := &fakeDrive{
		nodes:          map[string]*drive.Node{},
		children:       map[string]string{},
		uploadErrs:     map[string][]error{},
		uploadHash:     map[string]string{},
		corruptUploads: map[string]int{},
		resolveLag:     map[string]int{},
		resolveErr:     map[string]error{},
		uploads:        map[string]int{},
		creates:        map[string]int{},
		childLookups:   map[string]int{},
	}
	d.nodes["root"] = &drive.Node{ID: "root", IsDirectory: true}
	return d
}

func (d *fakeDrive) newID() string {
	d.nextID++
	return fmt.Sprintf("n%d", d.nextID)
}

func (d *fakeDrive) addLocked(parentID, name string, isDir bool, hash string) *drive.Node {
	n := &drive.Node{ID: d.newID(), ParentID: parentID, Name: name, IsDirectory: isDir, Hash: hash}
	d.nodes[n.ID] = n
	d.children[parentID+"/"+name] = n.ID
	d.pending = append(d.pending, drive.Change{Node: *n})
	return n
}

// seed adds a node under the node at parentPath.
func (d *fakeDrive) seed(parentPath, name string, isDir bool, hash string) *drive.Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, err := d.lookupLocked(parentPath)
	if err != nil {
		panic(err)
	}
	return d.addLocked(parent.ID, name, isDir, hash)
}

func (d *fakeDrive) lookupLocked(p string) (*drive.Node, error) {
	node := d.nodes["root"]
	for _, part := range splitPath(p) {
		id, ok := d.children[node.ID+"/"+part]
		if !ok {
			return nil, drive.ErrNodeNotFound
		}
		node = d.nodes[id]
	}
	return node, nil
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(path.Clean("/"+p), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func (d *fakeDrive) pathOfLocked(id string) string {
	n := d.nodes[id]
	if n.ID == "root" {
		return "/"
	}
	return path.Join(d.pathOfLocked(n.ParentID), n.Name)
}

func (d *fakeDrive) GetNodeByPath(ctx context.Context, p string) (*drive.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.lookupLocked(p)
	if err != nil {
		return nil, err
	}
	cp := *n
	return &cp, nil
}

func (d *fakeDrive) GetChildByName(ctx context.Context, parent *drive.Node, name string) (*drive.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.childLookups[name]++
	id, ok := d.children[parent.ID+"/"+name]
	if !ok {
		return nil, drive.ErrNodeNotFound
	}
	cp := *d.nodes[id]
	return &cp, nil
}

func (d *fakeDrive) CreateDirectory(ctx context.Context, parent *drive.Node, name string) (*drive.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.creates[name]++
	n := d.addLocked(parent.ID, name, true, "")
	cp := *n
	return &cp, nil
}

func (d *fakeDrive) UploadFile(ctx context.Context, localPath string, parent *drive.Node) (*drive.Node, error) {
	name := filepath.Base(localPath)
	if d.onUpload != nil {
		d.onUpload(name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.uploads[name]++
	if errs := d.uploadErrs[name]; len(errs) > 0 {
		d.uploadErrs[name] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}

	b, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(b)
	h := hex.EncodeToString(sum[:])
	if override, ok := d.uploadHash[name]; ok {
		h = override
	}
	if n := d.corruptUploads[name]; n > 0 {
		d.corruptUploads[name] = n - 1
		h = "deadbeef"
	}

	// an upload replaces whatever sat under that name
	n := d.addLocked(parent.ID, name, false, h)
	n.Size = int64(len(b))
	cp := *n
	return &cp, nil
}

func (d *fakeDrive) ResolvePath(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return "", drive.ErrNodeNotFound
	}
	if err := d.resolveErr[n.Name]; err != nil {
		return "", err
	}
	if lag := d.resolveLag[n.Name]; lag > 0 {
		d.resolveLag[n.Name] = lag - 1
		return "", drive.ErrNodeNotFound
	}
	return d.pathOfLocked(id), nil
}

func (d *fakeDrive) Sync(ctx context.Context) iter.Seq2[drive.Change, error] {
	return func(yield func(drive.Change, error) bool) {
		cur := d.inSync.Add(1)
		defer d.inSync.Add(-1)
		for {
			seen := d.maxInSync.Load()
			if cur <= seen || d.maxInSync.CompareAndSwap(seen, cur) {
				break
			}
		}
		d.syncs.Add(1)

		d.mu.Lock()
		err := d.syncErr
		changes := d.pending
		d.pending = nil
		d.mu.Unlock()

		if err != nil {
			yield(drive.Change{}, err)
			return
		}
		for _, c := range changes {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (d *fakeDrive) NewHasher() hash.Hash { return md5.New() }

func (d *fakeDrive) Close() error { return nil }

func (d *fakeDrive) uploadCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads[name]
}

func (d *fakeDrive) createCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates[name]
}

func (d *fakeDrive) lookupCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.childLookups[name]
}

func (d *fakeDrive) totalUploads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.uploads {
		total += n
	}
	return total
}

func (d *fakeDrive) exists(p string) (*drive.Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookupLocked(p)
	return n, err == nil
}

// staticRules is a RuleSource over fixed patterns.
type staticRules struct {
	patterns []string
	err      error
	calls    atomic.Int32
}

func (s *staticRules) FetchRules(ctx context.Context) (exclude.RuleSet, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return exclude.Compile(s.patterns), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	nodes []drive.Node
	err   error
}

func (r *recordingNotifier) UpdateSearchCache(ctx context.Context, nodes []drive.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, nodes...)
	return r.err
}
