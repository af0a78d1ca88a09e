// Package whois provides a minimal WHOIS (RFC 3912) lookup client used to
// enrich newly registered domains on demand.
package whois

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultMinInterval spaces consecutive lookups so registry servers are not
// hammered.
const DefaultMinInterval = 2 * time.Second

// Record is the subset of WHOIS data worth surfacing per domain.
type Record struct {
	Domain      string    `json:"domain"`
	Registrar   string    `json:"registrar,omitempty"`
	Created     string    `json:"creation_date,omitempty"`
	Expires     string    `json:"expiry_date,omitempty"`
	NameServers []string  `json:"name_servers,omitempty"`
	Raw         string    `json:"-"`
	QueriedAt   time.Time `json:"queried_at"`
}

// Client performs paced WHOIS lookups against per-TLD registry servers.
type Client struct {
	// Server overrides the whois.nic.<tld> convention when set.
	Server      string
	Timeout     time.Duration
	MinInterval time.Duration

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu       sync.Mutex
	lastCall time.Time
}

func NewClient() *Client {
	var d net.Dialer
	return &Client{
		Timeout:     10 * time.Second,
		MinInterval: DefaultMinInterval,
		dial:        d.DialContext,
	}
}

// Lookup queries the registry WHOIS server for one fully qualified domain.
// Calls are serialized and spaced MinInterval apart.
func (c *Client) Lookup(ctx context.Context, fqdn string) (*Record, error) {
	fqdn = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(fqdn), "."))
	idx := strings.LastIndex(fqdn, ".")
	if idx <= 0 {
		return nil, fmt.Errorf("not a registrable domain: %q", fqdn)
	}
	tld := fqdn[idx+1:]

	server := c.Server
	if server == "" {
		server = "whois.nic." + tld
	}

	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	dialCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.dial(dialCtx, "tcp", net.JoinHostPort(server, "43"))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", server, err)
	}
	defer conn.Close()
	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", fqdn); err != nil {
		return nil, fmt.Errorf("writing query: %w", err)
	}

	var raw strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		raw.WriteString(scanner.Text())
		raw.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	rec := parse(raw.String())
	rec.Domain = fqdn
	rec.QueriedAt = time.Now().UTC()
	return rec, nil
}

// pace blocks until MinInterval has passed since the previous lookup.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := c.MinInterval - time.Since(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parse(raw string) *Record {
	rec := &Record{Raw: raw}
	for _, line := range strings.Split(raw, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "registrar":
			if rec.Registrar == "" {
				rec.Registrar = value
			}
		case "creation date", "created":
			if rec.Created == "" {
				rec.Created = value
			}
		case "registry expiry date", "expiry date", "expires":
			if rec.Expires == "" {
				rec.Expires = value
			}
		case "name server", "nserver":
			rec.NameServers = append(rec.NameServers, strings.ToLower(value))
		}
	}
	return rec
}
