package capture

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var sample = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

func newTestExtractor() *Extractor {
	return NewExtractor(DefaultOptions(), zap.NewNop())
}

func observedExtractor() (*Extractor, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewExtractor(DefaultOptions(), zap.New(core)), logs
}

func crcLine(b []byte) string {
	return fmt.Sprintf("#CD:CRC32#0x%x", crc32.ChecksumIEEE(b))
}

func TestExtract_GoodCRC(t *testing.T) {
	ex, logs := observedExtractor()
	lines := []string{
		"boot banner",
		"#CD:BEGIN#",
		"#CD:0102030405060708",
		crcLine(sample),
		"#CD:END#",
	}

	var out bytes.Buffer
	res, err := ex.Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), sample) {
		t.Errorf("output = %x, want %x", out.Bytes(), sample)
	}
	if res.Written != 8 || res.EndLine != 5 || res.BeginLine != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.StreamCRCMismatch() || !res.Clean() {
		t.Errorf("unexpected integrity finding: %+v", res)
	}
	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Errorf("expected no warnings, got %d", n)
	}
}

func TestExtract_BadCRC(t *testing.T) {
	ex, logs := observedExtractor()
	lines := []string{
		"#CD:BEGIN#",
		"#CD:0102030405060708",
		"#CD:CRC32#0xdeadbeef",
		"#CD:END#",
	}

	var out bytes.Buffer
	res, err := ex.Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), sample) {
		t.Errorf("output = %x, want %x", out.Bytes(), sample)
	}
	if !res.StreamCRCMismatch() {
		t.Error("expected stream CRC mismatch")
	}
	if res.DeclaredCRC != 0xdeadbeef || res.ComputedCRC != crc32.ChecksumIEEE(sample) {
		t.Errorf("CRCs = declared 0x%08x computed 0x%08x", res.DeclaredCRC, res.ComputedCRC)
	}
	if logs.FilterMessage("stream CRC mismatch").Len() != 1 {
		t.Error("expected a stream CRC mismatch warning")
	}
}

func TestExtract_FramingErrors(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		line    int
		reason  Reason
		payload string
	}{
		{
			name: "device error marker",
			lines: []string{
				"#CD:BEGIN#",
				"#CD:0102",
				"#CD:ERROR CANNOT DUMP#",
				"#CD:END#",
			},
			line:   3,
			reason: ReasonDeviceError,
		},
		{
			name: "odd length payload",
			lines: []string{
				"#CD:BEGIN#",
				"#CD:0102",
				"#CD:010",
				"#CD:END#",
			},
			line:    3,
			reason:  ReasonBadPayload,
			payload: "010",
		},
		{
			name: "non hex payload",
			lines: []string{
				"#CD:BEGIN#",
				"#CD:zz11",
			},
			line:    2,
			reason:  ReasonBadPayload,
			payload: "zz11",
		},
		{
			name: "missing begin",
			lines: []string{
				"#CD:0102",
				"#CD:END#",
			},
			line:   2,
			reason: ReasonMissingBegin,
		},
		{
			name: "duplicate begin",
			lines: []string{
				"#CD:BEGIN#",
				"#CD:0102",
				"#CD:BEGIN#",
			},
			line:   3,
			reason: ReasonDuplicateBegin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			res, err := newTestExtractor().Extract(tt.lines, 0, &out)

			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FramingError, got %T: %v", err, err)
			}
			if fe.Line != tt.line || fe.Reason != tt.reason || fe.Payload != tt.payload {
				t.Errorf("FramingError = %+v, want line %d reason %s payload %q", fe, tt.line, tt.reason, tt.payload)
			}
			if res.Written != 0 {
				t.Errorf("expected zero bytes written, got %d", res.Written)
			}
			if res.EndLine != tt.line {
				t.Errorf("EndLine = %d, want %d", res.EndLine, tt.line)
			}
		})
	}
}

// countingWriter records the size of every Write call.
type countingWriter struct {
	sizes []int
	total int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.sizes = append(w.sizes, len(p))
	w.total += len(p)
	return len(p), nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestExtract_StreamsToSink(t *testing.T) {
	const dataLines = 1000
	lines := []string{"#CD:BEGIN#"}
	for i := 0; i < dataLines; i++ {
		lines = append(lines, "#CD:"+hex.EncodeToString(sample))
	}
	lines = append(lines, "#CD:END#")

	sink := &countingWriter{}
	res, err := newTestExtractor().Extract(lines, 0, sink)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := dataLines * len(sample)
	if res.Written != want || sink.total != want {
		t.Errorf("written = %d, sink total = %d, want %d", res.Written, sink.total, want)
	}
	if len(sink.sizes) < 2 {
		t.Errorf("expected the capture to reach the sink in several writes, got sizes %v", sink.sizes)
	}
	for _, n := range sink.sizes {
		if n >= want {
			t.Errorf("write of %d bytes holds the whole capture", n)
		}
	}
}

func TestExtract_SinkError(t *testing.T) {
	lines := []string{"#CD:BEGIN#", "#CD:0102030405060708", "#CD:END#"}

	_, err := newTestExtractor().Extract(lines, 0, failingWriter{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	var fe *FramingError
	if errors.As(err, &fe) {
		t.Errorf("sink error reported as framing error: %v", err)
	}
}

func TestExtract_MissingEnd(t *testing.T) {
	ex, logs := observedExtractor()
	lines := []string{
		"#CD:BEGIN#",
		"#CD:01020304",
		"[12:00:00] unrelated",
	}

	var out bytes.Buffer
	res, err := ex.Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Complete {
		t.Error("expected incomplete result")
	}
	if res.Written != 4 || res.EndLine != 3 {
		t.Errorf("result = %+v", res)
	}
	if logs.FilterMessage("transcript ended before END marker").Len() != 1 {
		t.Error("expected a missing END warning")
	}
}

func TestExtract_IgnoresOutsideWindow(t *testing.T) {
	lines := []string{
		"#CD:ffff",
		"#CD:CRC32#0x1",
		"[0.001] #CD:BEGIN#0x20001000 ",
		"[0.002] #CD:0102030405060708 ",
		"[0.003] shell> help",
		"[0.004] #CD:END#",
		"#CD:aaaa",
	}

	var out bytes.Buffer
	res, err := newTestExtractor().Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), sample) {
		t.Errorf("output = %x, want %x", out.Bytes(), sample)
	}
	if res.SourceAddr != 0x20001000 {
		t.Errorf("SourceAddr = 0x%x, want 0x20001000", res.SourceAddr)
	}
	if res.HasDeclaredCRC {
		t.Error("CRC marker before BEGIN should be ignored")
	}
}

func TestExtract_BlockCRC(t *testing.T) {
	first := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	second := []byte{0x11, 0x22}
	whole := append(append([]byte(nil), first...), second...)

	ex, logs := observedExtractor()
	lines := []string{
		"#CD:BEGIN#",
		"#CD:aabbccdd ",
		fmt.Sprintf("#CD:BLOCK#0#0x%x ", crc32.ChecksumIEEE(first)),
		"#CD:1122 ",
		"#CD:BLOCK#1#0x12345678 ",
		crcLine(whole),
		"#CD:END#",
	}

	var out bytes.Buffer
	res, err := ex.Extract(lines, 0, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Blocks != 2 {
		t.Errorf("Blocks = %d, want 2", res.Blocks)
	}
	if len(res.BlockMismatches) != 1 {
		t.Fatalf("BlockMismatches = %+v, want one", res.BlockMismatches)
	}
	mm := res.BlockMismatches[0]
	if mm.Index != 1 || mm.Line != 5 || mm.Computed != crc32.ChecksumIEEE(second) {
		t.Errorf("mismatch = %+v", mm)
	}
	if res.StreamCRCMismatch() {
		t.Error("stream CRC should match")
	}
	if logs.FilterMessage("block CRC mismatch").Len() != 1 {
		t.Error("expected one block CRC warning")
	}
}

func TestExtract_StartOffset(t *testing.T) {
	lines := []string{
		"#CD:BEGIN#",
		"#CD:ff",
		"#CD:END#",
		"#CD:BEGIN#",
		"#CD:ee",
		"#CD:END#",
	}

	var out bytes.Buffer
	res, err := newTestExtractor().Extract(lines, 3, &out)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0xee}) || res.BeginLine != 4 || res.EndLine != 6 {
		t.Errorf("output = %x, result = %+v", out.Bytes(), res)
	}
}

func TestExtract_DataExportPrefix(t *testing.T) {
	ex := NewExtractor(Options{Markers: DefaultMarkers(PrefixDataExport)}, zap.NewNop())
	lines := []string{
		"#CD:BEGIN#",
		"#DA:BEGIN#",
		"#DA:cafe",
		"#DA:END#",
	}

	var out bytes.Buffer
	if _, err := ex.Extract(lines, 0, &out); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0xca, 0xfe}) {
		t.Errorf("output = %x", out.Bytes())
	}
}

func twoCopies(first, second []string) []string {
	lines := []string{"[0.000] boot"}
	lines = append(lines, first...)
	lines = append(lines, "[1.000] reboot")
	return append(lines, second...)
}

func framed(payloads ...string) []string {
	var raw []byte
	lines := []string{"#CD:BEGIN#"}
	for _, p := range payloads {
		lines = append(lines, "#CD:"+p+" ")
		b, _ := hex.DecodeString(p)
		raw = append(raw, b...)
	}
	return append(lines, crcLine(raw), "#CD:END#")
}

func TestExtractTwice_Verified(t *testing.T) {
	lines := twoCopies(framed("01020304", "0506"), framed("01020304", "0506"))

	var primary, backup bytes.Buffer
	dual, err := newTestExtractor().ExtractTwice(lines, &primary, &backup)
	if err != nil {
		t.Fatalf("ExtractTwice() error = %v", err)
	}
	if !dual.Verified {
		t.Error("expected verified capture")
	}
	if !bytes.Equal(primary.Bytes(), backup.Bytes()) || primary.Len() != 6 {
		t.Errorf("primary = %x, backup = %x", primary.Bytes(), backup.Bytes())
	}
	if dual.Backup.BeginLine <= dual.Primary.EndLine {
		t.Errorf("backup began at %d, primary ended at %d", dual.Backup.BeginLine, dual.Primary.EndLine)
	}
}

func TestExtractTwice_TruncatedBackup(t *testing.T) {
	// The second copy lost a line on the wire.
	lines := twoCopies(framed("01020304", "0506"), framed("01020304"))

	var primary, backup bytes.Buffer
	dual, err := newTestExtractor().ExtractTwice(lines, &primary, &backup)

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IntegrityError, got %T: %v", err, err)
	}
	if ie.PrimaryBytes != 6 || ie.BackupBytes != 4 {
		t.Errorf("IntegrityError = %+v", ie)
	}
	if dual == nil || dual.Verified {
		t.Errorf("expected unverified dual result, got %+v", dual)
	}
}

func TestExtractTwice_MissingBackup(t *testing.T) {
	lines := framed("0102")

	var primary, backup bytes.Buffer
	dual, err := newTestExtractor().ExtractTwice(lines, &primary, &backup)

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IntegrityError, got %T: %v", err, err)
	}
	var fe *FramingError
	if !errors.As(err, &fe) || fe.Reason != ReasonMissingBegin {
		t.Errorf("expected wrapped missing BEGIN, got %v", err)
	}
	if dual.Primary.Written != 2 || dual.Backup != nil {
		t.Errorf("dual = %+v", dual)
	}
}

func TestExtractTwice_PrimaryFramingError(t *testing.T) {
	lines := []string{"#CD:BEGIN#", "#CD:ERROR CANNOT DUMP#"}

	var primary, backup bytes.Buffer
	dual, err := newTestExtractor().ExtractTwice(lines, &primary, &backup)
	var fe *FramingError
	if !errors.As(err, &fe) || fe.Reason != ReasonDeviceError {
		t.Fatalf("expected device error, got %v", err)
	}
	if dual != nil {
		t.Errorf("expected nil dual result, got %+v", dual)
	}
}

func TestMergeContinuations(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		marker string
		want   []string
	}{
		{
			name: "split data line",
			lines: []string{
				"[0.001] #CD:0102",
				"0304\r",
				"[0.002] #CD:END#",
			},
			marker: "[",
			want: []string{
				"[0.001] #CD:01020304",
				"[0.002] #CD:END#",
			},
		},
		{
			name: "untimestamped capture lines are kept",
			lines: []string{
				"#CD:BEGIN#",
				"#CD:0102030405060708",
				"#CD:END#",
			},
			marker: "[",
			want: []string{
				"#CD:BEGIN#",
				"#CD:0102030405060708",
				"#CD:END#",
			},
		},
		{
			name:   "leading continuation stays",
			lines:  []string{"orphan", "[1] x", "tail"},
			marker: "[",
			want:   []string{"orphan", "[1] xtail"},
		},
		{
			name:   "merging disabled",
			lines:  []string{"a\r", "b"},
			marker: "",
			want:   []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeContinuations(tt.lines, tt.marker, PrefixCoredump)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("MergeContinuations() = %q, want %q", got, tt.want)
			}
		})
	}
}
