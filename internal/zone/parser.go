// Package zone parses registry-published zone files into bounded chunks of
// second-level domain records.
package zone

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/poyrazK/zonewatch/internal/core/domain"
)

// DefaultChunkSize bounds peak memory for inputs with tens of millions of
// lines. Tuned against typical CZDS zone files.
const DefaultChunkSize = 50000

// chunkBuffer is the number of unconsumed chunks the producer may run ahead
// by before it blocks.
const chunkBuffer = 2

// Chunk is a bounded batch of parsed domain records. Terminal marks the last
// chunk of a parse.
type Chunk struct {
	Domains  map[string]*domain.DomainRecord
	Terminal bool
}

// Parser extracts second-level domains and their ns/a/aaaa/ds records from a
// zone file belonging to one TLD.
type Parser struct {
	TLD       string
	ChunkSize int
	Logger    *slog.Logger
}

// NewParser creates a Parser for the given TLD with the default chunk size.
func NewParser(tld string) *Parser {
	return &Parser{
		TLD:       strings.ToLower(strings.TrimSuffix(tld, ".")),
		ChunkSize: DefaultChunkSize,
	}
}

// ChunkStream delivers parsed chunks. Err must be consulted after the
// Chunks channel is closed; chunks emitted before a read failure remain
// valid and are not retracted.
type ChunkStream struct {
	chunks chan Chunk
	err    error
}

// Chunks returns the channel of parsed chunks. The channel is closed once
// the input is exhausted or a fatal read error occurs.
func (s *ChunkStream) Chunks() <-chan Chunk {
	return s.chunks
}

// Err returns the fatal parse error, if any. Valid only after Chunks is
// closed.
func (s *ChunkStream) Err() error {
	return s.err
}

// Parse reads the zone file line stream and produces chunks asynchronously.
// The producer blocks once chunkBuffer chunks are unconsumed, keeping peak
// memory at O(ChunkSize) regardless of input size.
func (p *Parser) Parse(ctx context.Context, r io.Reader) *ChunkStream {
	stream := &ChunkStream{chunks: make(chan Chunk, chunkBuffer)}
	go p.produce(ctx, r, stream)
	return stream
}

func (p *Parser) produce(ctx context.Context, r io.Reader, stream *ChunkStream) {
	defer close(stream.chunks)

	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	scanner := bufio.NewScanner(r)
	// 1MB buffer for long DS rdata lines
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	apex := p.TLD
	suffix := "." + p.TLD + "."

	current := make(map[string]*domain.DomainRecord, chunkSize)
	// Records flushed in earlier chunks, so an owner resurfacing after a
	// flush extends its record instead of starting a fresh one.
	emitted := make(map[string]*domain.DomainRecord)
	// Flushed records that gained values after their chunk went out. They
	// are re-emitted in the terminal chunk; the stored record then carries
	// the full value set whatever the chunk size was.
	reopened := make(map[string]*domain.DomainRecord)
	lineCount := 0

	for scanner.Scan() {
		lineCount++
		if p.Logger != nil && lineCount%1000000 == 0 {
			p.Logger.Info("parsing zone file",
				"tld", p.TLD, "lines", lineCount, "domains", len(emitted)+len(current))
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		owner := strings.ToLower(fields[0])
		recordType := domain.RecordType(strings.ToLower(fields[3]))

		// Zone apex describes the TLD itself, not a delegated domain.
		if owner == apex || owner == apex+"." {
			continue
		}
		if !strings.HasSuffix(owner, suffix) {
			continue
		}

		name := owner[:len(owner)-len(suffix)]
		// Only direct second-level delegations are tracked.
		if name == "" || strings.Contains(name, ".") {
			continue
		}
		rec, ok := current[name]
		if !ok {
			if prev, flushed := emitted[name]; flushed {
				rec, ok = reopened[name]
				if !ok {
					// Copied so the chunk already handed to the consumer
					// is never written to again.
					rec = prev.Clone()
					reopened[name] = rec
				}
			} else {
				if len(current) == chunkSize {
					if !send(ctx, stream.chunks, Chunk{Domains: current}) {
						return
					}
					for flushedName, flushedRec := range current {
						emitted[flushedName] = flushedRec
					}
					current = make(map[string]*domain.DomainRecord, chunkSize)
				}
				rec = &domain.DomainRecord{Name: name}
				current[name] = rec
			}
		}

		if len(fields) > 4 {
			switch recordType {
			case domain.TypeNS, domain.TypeA, domain.TypeAAAA:
				rec.AddValue(recordType, fields[4])
			case domain.TypeDS:
				// DS rdata is one opaque value
				rec.AddValue(recordType, strings.Join(fields[4:], " "))
			}
		}
	}

	if err := scanner.Err(); err != nil {
		stream.err = fmt.Errorf("reading zone file for %s: %w", p.TLD, err)
		return
	}

	for name, rec := range reopened {
		current[name] = rec
	}
	send(ctx, stream.chunks, Chunk{Domains: current, Terminal: true})
}

func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Open returns a reader over the zone file at path, transparently
// decompressing gzip-tagged files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
	}
	return &gzipFile{gz: gz, f: f}, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gzErr := g.gz.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// TLDFromFilename derives the TLD from a zone file name, e.g.
// "example.txt.gz" -> "example".
func TLDFromFilename(name string) string {
	for _, suffix := range []string{".txt.gz", ".zone.gz", ".gz", ".txt", ".zone"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
