package dvd

import (
	"context"
	"fmt"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

// Client refreshes the search cache of a DVD server with nodes the drive just synced.
type Client interface {
	UpdateSearchCache(ctx context.Context, nodes []drive.Node) error
}

// New returns a client for cfg, or a no-op client when cfg is nil or has no URL.
func New(cfg *config.DvdConfig, client *httpPkg.Client) Client {
	if cfg == nil || cfg.CachesSearchesURL == "" {
		return noopClient{}
	}

	if client == nil {
		client = httpPkg.NewClient()
	}

	return &httpClient{
		url:    cfg.CachesSearchesURL,
		token:  cfg.Token,
		client: client,
	}
}

type noopClient struct{}

func (noopClient) UpdateSearchCache(context.Context, []drive.Node) error {
	return nil
}

type httpClient struct {
	url    string
	token  string
	client *httpPkg.Client
}

func (c *httpClient) UpdateSearchCache(ctx context.Context, nodes []drive.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Token " + c.token
	}

	if err := c.client.PostJSON(ctx, c.url, headers, nodes, nil); err != nil {
		return fmt.Errorf("failed to update search cache: %w", err)
	}

	logger.Debugf("Updated search cache with %d node(s)", len(nodes))

	return nil
}
