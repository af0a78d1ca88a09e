package whois

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

const sampleResponse = "Domain Name: GO.EXAMPLE\r\n" +
	"Registrar: Example Registrar LLC\r\n" +
	"Creation Date: 2026-08-01T00:00:00Z\r\n" +
	"Registry Expiry Date: 2027-08-01T00:00:00Z\r\n" +
	"Name Server: NS1.HOST.EXAMPLE\r\n" +
	"Name Server: NS2.HOST.EXAMPLE\r\n" +
	">>> Last update of WHOIS database: 2026-08-02T00:00:00Z <<<\r\n"

// whoisServer answers one query per connection with a fixed response.
func whoisServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 256)
				conn.Read(buf)
				conn.Write([]byte(sampleResponse))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestClient_Lookup(t *testing.T) {
	addr := whoisServer(t)
	host, _, _ := net.SplitHostPort(addr)

	c := NewClient()
	c.MinInterval = 0
	// route every lookup to the local server regardless of target port
	var d net.Dialer
	c.dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return d.DialContext(ctx, network, addr)
	}
	c.Server = host

	rec, err := c.Lookup(context.Background(), "Go.Example.")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Domain != "go.example" {
		t.Errorf("domain not normalized: %q", rec.Domain)
	}
	if rec.Registrar != "Example Registrar LLC" {
		t.Errorf("unexpected registrar: %q", rec.Registrar)
	}
	if rec.Created != "2026-08-01T00:00:00Z" || rec.Expires != "2027-08-01T00:00:00Z" {
		t.Errorf("unexpected dates: %q / %q", rec.Created, rec.Expires)
	}
	if len(rec.NameServers) != 2 || rec.NameServers[0] != "ns1.host.example" {
		t.Errorf("unexpected name servers: %v", rec.NameServers)
	}
}

func TestClient_LookupRejectsBareTLD(t *testing.T) {
	c := NewClient()
	c.MinInterval = 0
	if _, err := c.Lookup(context.Background(), "example"); err == nil {
		t.Errorf("expected error for a bare label")
	}
}

func TestClient_Pacing(t *testing.T) {
	c := NewClient()
	c.MinInterval = 50 * time.Millisecond

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.pace(context.Background()); err != nil {
			t.Fatalf("pace failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three paced calls finished too quickly: %s", elapsed)
	}
}

func TestClient_PacingCancel(t *testing.T) {
	c := NewClient()
	c.MinInterval = time.Hour
	c.pace(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.pace(ctx); err == nil {
		t.Errorf("expected context error from cancelled pace")
	}
}

func TestParse_IgnoresNoise(t *testing.T) {
	rec := parse("no colon line\nRegistrar:\nRegistrar: Keeper\nRegistrar: Second\n")
	if rec.Registrar != "Keeper" {
		t.Errorf("first non-empty registrar must win, got %q", rec.Registrar)
	}
	if !strings.Contains(rec.Raw, "no colon line") {
		t.Errorf("raw response must be preserved")
	}
}
