package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const transcriptText = "[0.001] #CD:BEGIN#\n[0.002] #CD:0102\n03\n[0.003] #CD:END#\n"

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zstded(t *testing.T, s string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll([]byte(s), nil)
}

func TestReadLines(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"plain", []byte(transcriptText)},
		{"gzip", gzipped(t, transcriptText)},
		{"zstd", zstded(t, transcriptText)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := ReadLines(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("ReadLines() error = %v", err)
			}
			if len(lines) != 4 || lines[2] != "03" {
				t.Errorf("ReadLines() = %q", lines)
			}
		})
	}
}

func TestReadLines_Empty(t *testing.T) {
	lines, err := ReadLines(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadLines() error = %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("ReadLines() = %q, want none", lines)
	}
}

func TestLoadTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log.gz")
	if err := os.WriteFile(path, gzipped(t, transcriptText), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := LoadTranscript(path, DefaultTimestampMarker, PrefixCoredump)
	if err != nil {
		t.Fatalf("LoadTranscript() error = %v", err)
	}
	want := []string{"[0.001] #CD:BEGIN#", "[0.002] #CD:010203", "[0.003] #CD:END#"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("LoadTranscript() = %q, want %q", lines, want)
	}

	var out bytes.Buffer
	res, err := newTestExtractor().Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Written != 3 {
		t.Errorf("Written = %d, want 3", res.Written)
	}
}

func TestLoadTranscript_Missing(t *testing.T) {
	if _, err := LoadTranscript(filepath.Join(t.TempDir(), "nope"), "[", PrefixCoredump); err == nil {
		t.Error("expected error for missing file")
	}
}
