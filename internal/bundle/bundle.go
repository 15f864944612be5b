// Package bundle packs the scan artifacts of one run into a single
// compressed file for durable retention.
package bundle

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// Bundle is a labeled collection of artifact files.
type Bundle struct {
	Version   string
	Artifacts map[string][]byte
}

// New returns an empty bundle.
func New() *Bundle {
	return &Bundle{Version: "1", Artifacts: make(map[string][]byte)}
}

// Add stores content under a label, replacing any previous content.
func (b *Bundle) Add(label string, content []byte) {
	b.Artifacts[label] = content
}

// AddFile reads a file and stores it under its base name.
func (b *Bundle) AddFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	b.Add(filepath.Base(path), content)
	return nil
}

// Labels returns the artifact labels in sorted order.
func (b *Bundle) Labels() []string {
	labels := make([]string, 0, len(b.Artifacts))
	for label := range b.Artifacts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// TotalSize returns the combined size of all artifacts in bytes.
func (b *Bundle) TotalSize() uint64 {
	var total uint64
	for _, content := range b.Artifacts {
		total += uint64(len(content))
	}
	return total
}

// Encode writes the bundle as gzip-compressed gob.
func Encode(w io.Writer, b *Bundle) error {
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(b); err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	return gz.Close()
}

// Decode reads a bundle written by Encode.
func Decode(r io.Reader) (*Bundle, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("not a shipgate bundle: %w", err)
	}
	defer gz.Close()

	b := New()
	if err := gob.NewDecoder(gz).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return b, nil
}

// WriteFile encodes the bundle to a file, truncating any existing content.
func WriteFile(path string, b *Bundle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bundle file: %w", err)
	}
	defer f.Close()

	if err := Encode(f, b); err != nil {
		return err
	}
	// A failed flush to disk must surface, not vanish in the deferred close.
	return f.Close()
}

// ReadFile decodes a bundle file.
func ReadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Summary renders a table of bundle contents with digests and sizes.
func (b *Bundle) Summary() string {
	var sb strings.Builder

	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tDIGEST\tSIZE")
	for _, label := range b.Labels() {
		content := b.Artifacts[label]
		sum := sha256.Sum256(content)
		digest := "sha256:" + hex.EncodeToString(sum[:])[:16]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label, digest, humanize.Bytes(uint64(len(content))))
	}
	tw.Flush()

	fmt.Fprintf(&sb, "Total: %d artifacts, %s\n", len(b.Artifacts), humanize.Bytes(b.TotalSize()))
	return sb.String()
}
