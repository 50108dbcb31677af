package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/NamanBalaji/duld/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "duld/1.0"

	defaultDownloadName = "download"
)

type Client struct {
	*http.Client
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient() *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	return &Client{
		&http.Client{
			Transport: transport,
		},
	}
}

// Send performs a request and returns the response whatever its status.
// The caller owns the response body.
func (c *Client) Send(ctx context.Context, method, urlStr string, headers map[string]string, body io.Reader) (*http.Response, error) {
	req, err := generateRequest(ctx, urlStr, method, headers, body)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Sending %s request to %s", method, urlStr)

	resp, err := c.Do(req)
	if err != nil {
		logger.Errorf("%s request failed for %s: %v", method, urlStr, err)
		return nil, ClassifyError(err)
	}

	logger.Debugf("%s response for %s: status=%d", method, urlStr, resp.StatusCode)

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, urlStr string, headers map[string]string, out any) error {
	return c.doJSON(ctx, http.MethodGet, urlStr, headers, nil, out)
}

// PostJSON encodes in as the request body and decodes the response into out when out is not nil.
func (c *Client) PostJSON(ctx context.Context, urlStr string, headers map[string]string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, urlStr, headers, in, out)
}

func (c *Client) doJSON(ctx context.Context, method, urlStr string, headers map[string]string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(b)

		h := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			h[k] = v
		}
		h["Content-Type"] = "application/json"
		headers = h
	}

	resp, err := c.Send(ctx, method, urlStr, headers, body)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Errorf("%s request returned error status %d for %s", method, resp.StatusCode, urlStr)
		return ClassifyHTTPError(resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return nil
}

// Download fetches urlStr into dir and returns the path of the written file.
// When name is empty it is taken from the response. A positive bytesPerSec throttles the transfer.
func (c *Client) Download(ctx context.Context, urlStr, dir, name string, bytesPerSec int64) (string, error) {
	resp, err := c.Send(ctx, http.MethodGet, urlStr, nil, http.NoBody)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Errorf("GET request returned error status %d for %s", resp.StatusCode, urlStr)
		return "", ClassifyHTTPError(resp.StatusCode)
	}

	if name == "" {
		name = GetFilename(resp)
	}
	name = filepath.Base(name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIOProblem, err)
	}

	dst := filepath.Join(dir, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIOProblem, err)
	}

	n, err := CopyWithLimit(ctx, f, resp.Body, bytesPerSec)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %v", ErrIOProblem, cerr)
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to download %s: %w", urlStr, err)
	}

	if mtime := ParseLastModified(resp.Header.Get("Last-Modified")); !mtime.IsZero() {
		_ = os.Chtimes(dst, mtime, mtime)
	}

	logger.Infof("Downloaded %s (%d bytes) to %s", urlStr, n, dst)

	return dst, nil
}

// generateRequest creates a new HTTP request with the specified method and URL.
func generateRequest(ctx context.Context, urlStr, method string, headers map[string]string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		logger.Errorf("Failed to create %s request for %s: %v", method, urlStr, err)
		return nil, ErrRequestCreation
	}

	req.Header.Set("User-Agent", DefaultUserAgent)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warnf("Failed to close response body: %v", err)
	}
}

// GetFilename tries extracts the filename from the Content-Disposition header or the URL.
func GetFilename(resp *http.Response) string {
	fileName, ok := getFileNameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if ok {
		return fileName
	}

	u := resp.Request.URL
	if qname := u.Query().Get("filename"); qname != "" {
		return qname
	}

	return NameFromURL(u.String())
}

// NameFromURL returns the last path segment of rawURL, or a generic name when there is none.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultDownloadName
	}

	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "" || base == "/" || base == "." {
		return defaultDownloadName
	}

	return base
}

func getFileNameFromContentDisposition(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if fName, ok := params["filename"]; ok {
			return fName, true
		}

		if fName, ok := params["filename*"]; ok {
			return fName, true
		}
	}

	return "", false
}

// ParseLastModified parses the Last-Modified header.
func ParseLastModified(header string) time.Time {
	if header == "" {
		return time.Time{}
	}

	// Try to parse the header (RFC1123 format)
	t, err := time.Parse(time.RFC1123, header)
	if err != nil {
		logger.Debugf("Failed to parse Last-Modified header: %s, error: %v", header, err)
		return time.Time{}
	}

	return t
}
