package zone

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/poyrazK/zonewatch/internal/core/domain"
)

func collect(t *testing.T, s *ChunkStream) (map[string]*domain.DomainRecord, []Chunk) {
	t.Helper()
	all := make(map[string]*domain.DomainRecord)
	var chunks []Chunk
	for c := range s.Chunks() {
		chunks = append(chunks, c)
		for name, rec := range c.Domains {
			// a later chunk supersedes an earlier one for the same name
			all[name] = rec
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return all, chunks
}

func TestParser_Parse(t *testing.T) {
	zoneFile := `
; CZDS zone file excerpt
example.        3600    in      soa     a.nic.example. admin.example. 1 2 3 4 5
example.        3600    in      ns      a1.nic.example.
go.example.        3600    in      ns      a1.nic.example.
go.example.        3600    in      ns      a1.nic.example.
go.example.        3600    in      ns      a2.nic.example.
go.example.     3600    in      ds      12345 8 2 ABCDEF0123
www.go.example.  3600   in      a       1.2.3.4
a0.nic.example.   3600    in      a       65.22.232.33
a0.nic.example.   3600    in      aaaa    2a01:8840:bf::33
other.tld.      3600    in      ns      ns.other.
UPPER.example.  3600    IN      NS      NS.UPPER.example.
short line
forty.example.  3600    in      txt     "ignored type"
`

	p := NewParser("example")
	all, chunks := collect(t, p.Parse(context.Background(), strings.NewReader(zoneFile)))

	want := []string{"a0", "forty", "go", "upper"}
	var got []string
	for name := range all {
		got = append(got, name)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected domains %v, got %v", want, got)
	}

	goRec := all["go"]
	if len(goRec.NS) != 2 || goRec.NS[0] != "a1.nic.example" || goRec.NS[1] != "a2.nic.example" {
		t.Errorf("unexpected ns set for go: %v", goRec.NS)
	}
	if len(goRec.DS) != 1 || goRec.DS[0] != "12345 8 2 ABCDEF0123" {
		t.Errorf("ds rdata must be one opaque value, got %v", goRec.DS)
	}

	nic := all["a0"]
	if len(nic.A) != 1 || nic.A[0] != "65.22.232.33" {
		t.Errorf("unexpected a set: %v", nic.A)
	}
	if len(nic.AAAA) != 1 || nic.AAAA[0] != "2a01:8840:bf::33" {
		t.Errorf("unexpected aaaa set: %v", nic.AAAA)
	}

	// Owner is case-normalized; rdata is stored as published.
	upper := all["upper"]
	if len(upper.NS) != 1 || upper.NS[0] != "NS.UPPER.example" {
		t.Errorf("owner and rdata case handling wrong: %v", upper.NS)
	}
	if len(all["forty"].Records()) != 0 {
		t.Errorf("ignored record types must not accumulate values")
	}

	if len(chunks) != 1 || !chunks[len(chunks)-1].Terminal {
		t.Errorf("expected a single terminal chunk, got %d chunks", len(chunks))
	}
}

func TestParser_Chunking(t *testing.T) {
	var sb strings.Builder
	for _, d := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		sb.WriteString(d + ".example. 3600 in ns ns1." + d + ".net.\n")
	}

	p := NewParser("example")
	p.ChunkSize = 2
	all, chunks := collect(t, p.Parse(context.Background(), strings.NewReader(sb.String())))

	if len(all) != 5 {
		t.Fatalf("expected 5 domains, got %d", len(all))
	}
	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c.Domains)
	}
	if len(chunks) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("expected chunk sizes [2 2 1], got %v", sizes)
	}
	for i, c := range chunks {
		if c.Terminal != (i == len(chunks)-1) {
			t.Errorf("chunk %d terminal flag wrong", i)
		}
	}
}

func TestParser_ChunkSizeIndependence(t *testing.T) {
	var sb strings.Builder
	for _, d := range []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff", "ggg"} {
		sb.WriteString(d + ".example. 3600 in ns ns1." + d + ".net.\n")
		sb.WriteString(d + ".example. 3600 in ns ns2." + d + ".net.\n")
		sb.WriteString(d + ".example. 3600 in ds 100 8 2 FACE\n")
	}
	// owners resurfacing after other names straddle any small chunk boundary
	for _, d := range []string{"aaa", "ddd", "ggg"} {
		sb.WriteString(d + ".example. 3600 in ns late." + d + ".net.\n")
	}
	input := sb.String()

	parse := func(chunkSize int) map[string]*domain.DomainRecord {
		p := NewParser("example")
		p.ChunkSize = chunkSize
		all, _ := collect(t, p.Parse(context.Background(), strings.NewReader(input)))
		return all
	}

	base := parse(100)
	if got := strings.Join(base["aaa"].NS, "|"); got != "ns1.aaa.net|ns2.aaa.net|late.aaa.net" {
		t.Fatalf("unexpected baseline ns set for aaa: %q", got)
	}
	for _, size := range []int{1, 2, 3, 7} {
		got := parse(size)
		if len(got) != len(base) {
			t.Fatalf("chunkSize=%d changed membership: %d vs %d", size, len(got), len(base))
		}
		for name, rec := range base {
			other, ok := got[name]
			if !ok {
				t.Fatalf("chunkSize=%d dropped domain %s", size, name)
			}
			if strings.Join(rec.NS, "|") != strings.Join(other.NS, "|") ||
				strings.Join(rec.DS, "|") != strings.Join(other.DS, "|") {
				t.Errorf("chunkSize=%d changed records for %s", size, name)
			}
		}
	}
}

func TestParser_EmptyInput(t *testing.T) {
	p := NewParser("example")
	all, chunks := collect(t, p.Parse(context.Background(), strings.NewReader("")))
	if len(all) != 0 {
		t.Errorf("expected no domains, got %d", len(all))
	}
	if len(chunks) != 1 || !chunks[0].Terminal {
		t.Errorf("empty input must still yield one terminal chunk")
	}
}

func TestParser_TrailingDotTLD(t *testing.T) {
	// NewParser normalizes a trailing dot on the TLD itself.
	p := NewParser("example.")
	input := "go.example. 3600 in ns a1.nic.example.\n"
	all, _ := collect(t, p.Parse(context.Background(), strings.NewReader(input)))
	if _, ok := all["go"]; !ok {
		t.Fatalf("expected domain go, got %v", all)
	}
}

func TestOpen_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.txt.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("go.example. 3600 in ns a1.nic.example.\n")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	p := NewParser("example")
	all, _ := collect(t, p.Parse(context.Background(), r))
	if rec, ok := all["go"]; !ok || rec.NS[0] != "a1.nic.example" {
		t.Errorf("gzip parse failed: %v", all)
	}
}

func TestTLDFromFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"example.txt.gz", "example"},
		{"example.zone.gz", "example"},
		{"example.gz", "example"},
		{"example.txt", "example"},
		{"example.zone", "example"},
		{"example", "example"},
	}
	for _, tt := range tests {
		if got := TLDFromFilename(tt.in); got != tt.want {
			t.Errorf("TLDFromFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
