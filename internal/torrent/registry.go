package torrent

import (
	"errors"
	"fmt"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

// Factory builds a client of one type.
type Factory func(cfg config.TorrentConfig, client *httpPkg.Client) (Client, error)

var factories = map[string]Factory{
	"transmission": NewTransmission,
	"qbittorrent":  NewQbittorrent,
	"embedded":     NewEmbedded,
}

// Registry holds the configured clients in configuration order.
type Registry struct {
	clients []Client
	byName  map[string]Client
}

// NewRegistry builds every configured client. Entries of an unknown type are
// logged and skipped.
func NewRegistry(cfgs []config.TorrentConfig, client *httpPkg.Client) (*Registry, error) {
	r := &Registry{byName: make(map[string]Client)}

	for _, cfg := range cfgs {
		factory, ok := factories[cfg.Type]
		if !ok {
			logger.Errorf("Unsupported torrent client type: %s", cfg.Type)
			continue
		}

		c, err := factory(cfg, client)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create torrent client %s: %w", cfg.Name, err)
		}

		if err := r.Register(c); err != nil {
			c.Close()
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Client) error {
	if _, ok := r.byName[c.Name()]; ok {
		return fmt.Errorf("duplicate torrent client name %q", c.Name())
	}

	r.clients = append(r.clients, c)
	r.byName[c.Name()] = c
	logger.Infof("Registered torrent client: %s", c.Name())

	return nil
}

func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}
	return c, nil
}

// All returns the clients in registration order.
func (r *Registry) All() []Client {
	return append([]Client(nil), r.clients...)
}

// Default is the first registered client, or nil.
func (r *Registry) Default() Client {
	if len(r.clients) == 0 {
		return nil
	}
	return r.clients[0]
}

func (r *Registry) Len() int {
	return len(r.clients)
}

func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
