// Package czds implements the ICANN CZDS download client: authentication,
// zone link listing and zone file retrieval.
package czds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
)

// Client talks to the CZDS API with transparent re-authentication on token
// expiry. Safe for concurrent use.
type Client struct {
	AuthURL     string
	APIURL      string
	Username    string
	Password    string
	DownloadDir string

	AuthTimeout     time.Duration
	LinksTimeout    time.Duration
	DownloadTimeout time.Duration

	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a CZDS client writing downloaded zone files under
// downloadDir.
func NewClient(authURL, apiURL, username, password, downloadDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		AuthURL:         strings.TrimSuffix(authURL, "/"),
		APIURL:          strings.TrimSuffix(apiURL, "/"),
		Username:        username,
		Password:        password,
		DownloadDir:     downloadDir,
		AuthTimeout:     30 * time.Second,
		LinksTimeout:    60 * time.Second,
		DownloadTimeout: 300 * time.Second,
		httpClient:      &http.Client{},
		logger:          logger,
	}
}

// Authenticate obtains a fresh access token.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.AuthTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL+"/api/authenticate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrAuthFailed, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decoding token response: %v", domain.ErrAuthFailed, err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", domain.ErrAuthFailed)
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.mu.Unlock()

	c.logger.Info("authenticated with CZDS", "username", c.Username)
	return nil
}

// Authenticated reports whether the client currently holds an access token.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return "Bearer " + c.token
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	return c.Authenticate(ctx)
}

// ZoneLinks lists the available zone file download links. An expired token
// triggers one re-authentication and retry.
func (c *Client) ZoneLinks(ctx context.Context) ([]string, error) {
	return c.zoneLinks(ctx, true)
}

func (c *Client) zoneLinks(ctx context.Context, retryAuth bool) ([]string, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.LinksTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.APIURL+"/czds/downloads/links", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.bearer())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching zone links: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var links []string
		if err := json.NewDecoder(resp.Body).Decode(&links); err != nil {
			return nil, fmt.Errorf("decoding zone links: %w", err)
		}
		c.logger.Info("fetched zone links", "count", len(links))
		return links, nil
	case http.StatusUnauthorized:
		if !retryAuth {
			return nil, fmt.Errorf("%w: token rejected after re-authentication", domain.ErrAuthFailed)
		}
		c.logger.Warn("access token expired, re-authenticating")
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		return c.zoneLinks(ctx, false)
	default:
		return nil, fmt.Errorf("fetching zone links: status %d", resp.StatusCode)
	}
}

// DownloadZoneFile retrieves one zone file and returns the local path. A 404
// yields an empty path and nil error (zone absent).
func (c *Client) DownloadZoneFile(ctx context.Context, url string) (string, error) {
	return c.download(ctx, url, true)
}

func (c *Client) download(ctx context.Context, url string, retryAuth bool) (string, error) {
	if err := c.ensureToken(ctx); err != nil {
		return "", err
	}

	tld := c.TLDFromURL(url)

	reqCtx, cancel := context.WithTimeout(ctx, c.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.bearer())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", tld, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
		if filename == "" {
			filename = tld + ".txt.gz"
		}
		path := filepath.Join(c.DownloadDir, filepath.Base(filename))

		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		written, err := io.Copy(f, resp.Body)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", path, err)
		}
		c.logger.Info("downloaded zone file", "tld", tld, "path", path, "bytes", written)
		return path, nil
	case http.StatusUnauthorized:
		if !retryAuth {
			return "", fmt.Errorf("%w: token rejected after re-authentication", domain.ErrAuthFailed)
		}
		c.logger.Warn("access token expired during download, re-authenticating", "tld", tld)
		if err := c.Authenticate(ctx); err != nil {
			return "", err
		}
		return c.download(ctx, url, false)
	case http.StatusNotFound:
		c.logger.Warn("zone file not found", "tld", tld)
		return "", nil
	default:
		return "", fmt.Errorf("downloading %s: status %d", tld, resp.StatusCode)
	}
}

// TLDFromURL derives the TLD from a zone download link, e.g.
// ".../czds/downloads/example.zone" -> "example".
func (c *Client) TLDFromURL(url string) string {
	filename := url
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		filename = url[idx+1:]
	}
	return strings.TrimSuffix(filename, ".zone")
}

func filenameFromDisposition(disposition string) string {
	const marker = "filename="
	idx := strings.Index(disposition, marker)
	if idx < 0 {
		return ""
	}
	return strings.Trim(disposition[idx+len(marker):], `"`)
}
