package transcript

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/dugoutlabs/hap/internal/models"
)

// ExportFormat selects the container compression for a cache export.
type ExportFormat string

const (
	// FormatJSON writes the export uncompressed.
	FormatJSON ExportFormat = "json"
	// FormatGzip wraps the export in gzip.
	FormatGzip ExportFormat = "gz"
	// FormatBzip2 wraps the export in bzip2.
	FormatBzip2 ExportFormat = "bz2"
	// FormatXZ wraps the export in xz.
	FormatXZ ExportFormat = "xz"
)

// DetectFormat maps a destination filename to an export format by its
// extension. Unrecognised extensions fall back to plain JSON.
func DetectFormat(path string) ExportFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return FormatGzip
	case ".bz2", ".bzip2":
		return FormatBzip2
	case ".xz":
		return FormatXZ
	default:
		return FormatJSON
	}
}

// exportFile is the on-disk shape of a cache export. Entries carry
// their original timestamps so TTLs survive a round trip.
type exportFile struct {
	SchemaVersion int           `json:"schema_version"`
	ExportedAt    time.Time     `json:"exported_at"`
	Entries       []ExportEntry `json:"entries"`
}

// ExportEntry is one cached transcript in portable form.
type ExportEntry struct {
	SourceURL string    `json:"source_url"`
	Words     []Word    `json:"words"`
	Duration  float64   `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportResult reports the outcome of a cache import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Export writes every cache entry to w in the requested format and
// returns the number of entries written.
func (c *Cache) Export(ctx context.Context, w io.Writer, format ExportFormat) (int, error) {
	entries, err := c.repo.All(ctx)
	if err != nil {
		return 0, err
	}

	out := exportFile{
		SchemaVersion: models.TranscriptSchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Entries:       make([]ExportEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		words, err := DecodeWords(entry.Words)
		if err != nil {
			c.logger.Warn("skipping unreadable entry during export",
				slog.String("source_url", entry.SourceURL),
				slog.String("error", err.Error()))
			continue
		}
		out.Entries = append(out.Entries, ExportEntry{
			SourceURL: entry.SourceURL,
			Words:     words,
			Duration:  entry.Duration,
			CreatedAt: entry.CreatedAt.UTC(),
		})
	}

	cw, err := compressionWriter(w, format)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(cw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		cw.Close()
		return 0, fmt.Errorf("encoding export: %w", err)
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("finalising export: %w", err)
	}
	return len(out.Entries), nil
}

// Import reads a cache export from r, auto-detecting compression from
// magic bytes, and stores every servable entry. Entries that are
// expired, malformed, or from a different schema version are skipped.
func (c *Cache) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult

	reader, err := decompressionReader(r)
	if err != nil {
		return res, err
	}

	var in exportFile
	if err := json.NewDecoder(reader).Decode(&in); err != nil {
		return res, fmt.Errorf("decoding import: %w", err)
	}
	if in.SchemaVersion != models.TranscriptSchemaVersion {
		return res, fmt.Errorf("unsupported export schema version %d", in.SchemaVersion)
	}

	now := time.Now()
	for _, entry := range in.Entries {
		if entry.SourceURL == "" || now.After(entry.CreatedAt.Add(c.ttl)) {
			res.Skipped++
			continue
		}
		if err := ValidateWords(entry.Words); err != nil {
			c.logger.Warn("skipping invalid entry during import",
				slog.String("source_url", entry.SourceURL),
				slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		words, err := EncodeWords(entry.Words)
		if err != nil {
			res.Skipped++
			continue
		}
		row := &models.CachedTranscript{
			SchemaVersion: models.TranscriptSchemaVersion,
			SourceURL:     entry.SourceURL,
			Words:         words,
			Duration:      entry.Duration,
		}
		// Keep the original timestamp so imported entries expire on the
		// exporter's clock, not the importer's.
		row.CreatedAt = entry.CreatedAt
		if err := c.repo.Put(ctx, row); err != nil {
			return res, err
		}
		res.Imported++
	}

	if err := c.enforceCap(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// nopWriteCloser adapts a plain writer to the WriteCloser shape used by
// the compression wrappers.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func compressionWriter(w io.Writer, format ExportFormat) (io.WriteCloser, error) {
	switch format {
	case FormatJSON, "":
		return nopWriteCloser{w}, nil
	case FormatGzip:
		return gzip.NewWriter(w), nil
	case FormatBzip2:
		bw, err := dbzip2.NewWriter(w, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 writer: %w", err)
		}
		return bw, nil
	case FormatXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// decompressionReader sniffs the stream's magic bytes and wraps it in
// the matching decompressor. Plain JSON passes through untouched.
func decompressionReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	}

	return br, nil
}
