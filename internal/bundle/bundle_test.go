package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New()
	b.Add("report.json", []byte(`{"counts":{"critical":0}}`))
	b.Add("findings.csv", []byte("id,severity\nCVE-1,high\n"))

	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Version != "1" {
		t.Errorf("Version = %q, want 1", decoded.Version)
	}
	if len(decoded.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(decoded.Artifacts))
	}
	if !bytes.Equal(decoded.Artifacts["findings.csv"], b.Artifacts["findings.csv"]) {
		t.Error("findings.csv content mismatch after round trip")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(strings.NewReader("definitely not gzip")); err == nil {
		t.Error("expected error for non-bundle input")
	}
}

func TestAddFileAndWriteFile(t *testing.T) {
	dir := t.TempDir()

	reportPath := filepath.Join(dir, "scan-report.json")
	if err := os.WriteFile(reportPath, []byte(`{"scanner":"trivy"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New()
	if err := b.AddFile(reportPath); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if _, ok := b.Artifacts["scan-report.json"]; !ok {
		t.Fatal("artifact should be stored under its base name")
	}

	bundlePath := filepath.Join(dir, "artifacts.bundle")
	if err := WriteFile(bundlePath, b); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	decoded, err := ReadFile(bundlePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(decoded.Artifacts["scan-report.json"]) != `{"scanner":"trivy"}` {
		t.Error("content mismatch after file round trip")
	}
}

func TestAddFileMissing(t *testing.T) {
	b := New()
	if err := b.AddFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSummary(t *testing.T) {
	b := New()
	b.Add("sbom.cdx.json", bytes.Repeat([]byte("a"), 2048))
	b.Add("report.json", []byte("{}"))

	summary := b.Summary()
	if !strings.Contains(summary, "sbom.cdx.json") {
		t.Errorf("summary missing label: %s", summary)
	}
	if !strings.Contains(summary, "sha256:") {
		t.Errorf("summary missing digest: %s", summary)
	}
	if !strings.Contains(summary, "2 artifacts") {
		t.Errorf("summary missing total: %s", summary)
	}
	// Labels print in sorted order.
	if strings.Index(summary, "report.json") > strings.Index(summary, "sbom.cdx.json") {
		t.Errorf("labels not sorted: %s", summary)
	}
}

func TestWriteFileReportsWriteFailure(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /dev/full")
	}

	b := New()
	b.Add("report.json", bytes.Repeat([]byte("abcdefgh"), 1<<16))

	if err := WriteFile("/dev/full", b); err == nil {
		t.Error("WriteFile() reported success writing to a full device")
	}
}
