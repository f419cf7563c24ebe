package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/ramdump/internal/capture"
	"github.com/muurk/ramdump/internal/logging"
	"github.com/muurk/ramdump/internal/ramdump"
	"github.com/muurk/ramdump/internal/ui"
)

// Command flags
var (
	inputPath       string
	outputPath      string
	backupPath      string
	sidecarPath     string
	ozonePath       string
	prefix          string
	timestampMarker string
	singlePass      bool
	blockSize       int
	codecName       string
	esfAddr         string
	currentThread   string
	targetType      uint8
)

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(infoCmd)
}

// extractCmd implements the 'extract' command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a snapshot container from a serial transcript",
	Long: `Extract the framed hex capture from a console transcript.

Devices print every capture twice. The first copy is written to --output
and the second to --backup; the command fails with an integrity error
when the two copies disagree or the second copy is missing.

Lines split by the serial driver are rejoined first: any line that does
not start with the timestamp marker and does not contain the capture
prefix is appended to the line before it.

Transcripts may be plain text, gzip or zstd compressed.`,
	Example: `  # Coredump capture
  ramdump extract --input console.log --output snap.bin --backup snap.bak

  # Data export capture from a compressed log
  ramdump extract --input console.log.zst --output data.bin --backup data.bak --prefix '#DA:'

  # Capture printed only once
  ramdump extract --input console.log --output snap.bin --single`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Transcript file (plain, gzip or zstd)")
	extractCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Primary capture output file")
	extractCmd.Flags().StringVar(&backupPath, "backup", "", "Backup capture output file (default: <output>.bak)")
	extractCmd.Flags().StringVar(&prefix, "prefix", capture.PrefixCoredump, "Capture line prefix")
	extractCmd.Flags().StringVar(&timestampMarker, "timestamp-marker", capture.DefaultTimestampMarker, "Marker that starts every console line; empty disables line merging")
	extractCmd.Flags().BoolVar(&singlePass, "single", false, "Extract one copy only and skip the backup comparison")
	_ = extractCmd.MarkFlagRequired("input")
	_ = extractCmd.MarkFlagRequired("output")
}

func runExtract(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	if backupPath == "" {
		backupPath = outputPath + ".bak"
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	fields := []ui.Field{
		{Key: "Transcript", Value: inputPath},
		{Key: "Prefix", Value: prefix},
		{Key: "Output", Value: outputPath},
	}
	if !singlePass {
		fields = append(fields, ui.Field{Key: "Backup", Value: backupPath})
	}
	p.PrintHeader("Snapshot Extraction", "ramdump extract", fields...)

	lines, err := capture.LoadTranscript(inputPath, timestampMarker, prefix)
	if err != nil {
		p.PrintResult(ui.NewFailureResult("Extraction failed", err, []string{
			"Check that the transcript path is correct",
		}))
		return err
	}

	opts := capture.DefaultOptions()
	opts.Markers = capture.DefaultMarkers(prefix)
	extractor := capture.NewExtractor(opts, logging.GetLogger())

	if singlePass {
		return extractSingle(p, extractor, lines)
	}

	primary, err := createCapture(outputPath)
	if err != nil {
		return err
	}
	defer primary.discard()
	backup, err := createCapture(backupPath)
	if err != nil {
		return err
	}
	defer backup.discard()

	dual, err := extractor.ExtractTwice(lines, primary, backup)

	var (
		integrity *capture.IntegrityError
		framing   *capture.FramingError
	)
	switch {
	case err == nil, errors.As(err, &integrity):
	case errors.As(err, &framing):
		p.PrintResult(ui.NewFailureResult("Extraction failed", err, framingTips(framing)))
		return err
	default:
		return err
	}

	if werr := primary.commit(); werr != nil {
		return werr
	}
	if dual.Backup != nil {
		if werr := backup.commit(); werr != nil {
			return werr
		}
	}

	if integrity != nil {
		p.PrintResult(ui.NewFailureResult("Capture copies disagree", err, []string{
			"Both output files are suspect",
			"Check the serial link for dropped characters and capture again",
		}))
		return err
	}

	result := extractionResult(dual.Primary, "Capture verified")
	result.Add("Backup", fmt.Sprintf("%s (%d bytes)", backupPath, dual.Backup.Written))
	p.PrintResult(result)
	return nil
}

func extractSingle(p *ui.Printer, extractor *capture.Extractor, lines []string) error {
	out, err := createCapture(outputPath)
	if err != nil {
		return err
	}
	defer out.discard()

	res, err := extractor.Extract(lines, 0, out)
	if err != nil {
		var framing *capture.FramingError
		if errors.As(err, &framing) {
			p.PrintResult(ui.NewFailureResult("Extraction failed", err, framingTips(framing)))
		}
		return err
	}
	if err := out.commit(); err != nil {
		return err
	}
	p.PrintResult(extractionResult(res, "Capture extracted"))
	return nil
}

// captureFile streams extracted bytes to path+".tmp". commit renames it
// into place; discard removes it and is a no-op after commit.
type captureFile struct {
	path string
	tmp  string
	f    *os.File
	done bool
}

func createCapture(path string) (*captureFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	return &captureFile{path: path, tmp: tmp, f: f}, nil
}

func (c *captureFile) Write(b []byte) (int, error) {
	return c.f.Write(b)
}

func (c *captureFile) commit() error {
	c.done = true
	if err := c.f.Close(); err != nil {
		_ = os.Remove(c.tmp)
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	if err := os.Rename(c.tmp, c.path); err != nil {
		_ = os.Remove(c.tmp)
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	return nil
}

func (c *captureFile) discard() {
	if c.done {
		return
	}
	c.done = true
	_ = c.f.Close()
	_ = os.Remove(c.tmp)
}

// extractionResult summarizes one pass, as a warning when the pass has
// integrity findings.
func extractionResult(res *capture.Result, title string) *ui.Result {
	fields := []ui.Field{
		{Key: "Output", Value: fmt.Sprintf("%s (%d bytes)", outputPath, res.Written)},
		{Key: "Lines", Value: fmt.Sprintf("%d-%d", res.BeginLine, res.EndLine)},
		{Key: "Blocks", Value: strconv.Itoa(res.Blocks)},
		{Key: "CRC32", Value: fmt.Sprintf("0x%08x", res.ComputedCRC)},
	}
	if res.SourceAddr != 0 {
		fields = append(fields, ui.Field{Key: "Source", Value: fmt.Sprintf("0x%x", res.SourceAddr)})
	}
	if res.Clean() {
		return ui.NewSuccessResult(title, fields...)
	}

	result := ui.NewWarningResult(title+" with warnings", fields...)
	if !res.Complete {
		result.Add("Warning", "transcript ended before END marker")
	}
	if res.StreamCRCMismatch() {
		result.Add("Warning", fmt.Sprintf("stream CRC declared 0x%08x", res.DeclaredCRC))
	}
	for _, m := range res.BlockMismatches {
		result.Add("Warning", fmt.Sprintf("block %d CRC mismatch at line %d", m.Index, m.Line))
	}
	return result
}

func framingTips(err *capture.FramingError) []string {
	switch err.Reason {
	case capture.ReasonMissingBegin:
		return []string{
			"No capture found; check --prefix matches the device output",
			"Coredumps use '#CD:', data exports use '#DA:'",
		}
	case capture.ReasonDeviceError:
		return []string{"The device could not produce a dump; check its log above the marker"}
	case capture.ReasonBadPayload:
		return []string{
			"A data line is corrupted; check the serial link and capture again",
			"Try a different --timestamp-marker if console lines were split",
		}
	default:
		return []string{"The transcript may contain two interleaved captures"}
	}
}

// unpackCmd implements the 'unpack' command
var unpackCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Decode a container into raw region files",
	Long: `Decode a snapshot container and write one raw file per memory region.

Each region is written as <output>/0x<address>.bin. The sidecar records
the file paths, addresses, BLAKE3 digests and the register frame address,
and is the input to 'ramdump-jtag replay'.`,
	Example: `  ramdump unpack --input snap.bin --output regions/ --sidecar snap.json

  # Also write a J-Link Ozone LoadRam script
  ramdump unpack --input snap.bin --output regions/ --sidecar snap.json --ozone regions/load_ram.jdebug`,
	RunE: runUnpack,
}

func init() {
	unpackCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Container file")
	unpackCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Directory for region files")
	unpackCmd.Flags().StringVar(&sidecarPath, "sidecar", "", "Sidecar file (default: <output>/sidecar.json)")
	unpackCmd.Flags().StringVar(&ozonePath, "ozone", "", "Also write a J-Link Ozone LoadRam script")
	_ = unpackCmd.MarkFlagRequired("input")
	_ = unpackCmd.MarkFlagRequired("output")
}

func runUnpack(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if sidecarPath == "" {
		sidecarPath = filepath.Join(outputPath, "sidecar.json")
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Snapshot Unpack", "ramdump unpack",
		ui.Field{Key: "Container", Value: inputPath},
		ui.Field{Key: "Output", Value: outputPath},
		ui.Field{Key: "Sidecar", Value: sidecarPath},
	)

	img, err := decodeFile(inputPath)
	if err != nil {
		p.PrintResult(ui.NewFailureResult("Unpack failed", err, []string{
			"Re-extract the container and compare it with the backup copy",
		}))
		return err
	}

	sc, err := img.WriteRegions(outputPath)
	if err != nil {
		return err
	}
	if err := sc.Save(sidecarPath); err != nil {
		return err
	}

	if ozonePath != "" {
		f, err := os.Create(ozonePath)
		if err != nil {
			return fmt.Errorf("failed to create ozone script: %w", err)
		}
		err = img.Ozone(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write ozone script: %w", err)
		}
	}

	result := ui.NewSuccessResult("Unpack complete",
		ui.Field{Key: "Regions", Value: strconv.Itoa(len(img.Regions))},
		ui.Field{Key: "Bytes", Value: strconv.Itoa(img.RawSize())},
		ui.Field{Key: "Codec", Value: img.Codec().String()},
		ui.Field{Key: "ESF", Value: fmt.Sprintf("0x%08x", img.Header.ESFAddr)},
		ui.Field{Key: "Sidecar", Value: sidecarPath},
	)
	if ozonePath != "" {
		result.Add("Ozone", ozonePath)
	}
	p.PrintResult(result)
	return nil
}

// packCmd implements the 'pack' command
var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Build a container from raw region files",
	Long: `Pack every <address>.bin file in a directory into a snapshot container.

Regions are ordered by address and split into --block-size chunks. The
fastlz codec produces containers a device would emit; lz4 produces
version 2 containers.

The register frame address, current thread and target type come from
--sidecar when given, otherwise from the flags.`,
	Example: `  ramdump pack --input regions/ --output snap.bin --sidecar snap.json

  ramdump pack --input regions/ --output snap.bin --codec lz4 --esf 0x20001f80`,
	RunE: runPack,
}

func init() {
	packCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Directory of <address>.bin region files")
	packCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Container output file")
	packCmd.Flags().IntVar(&blockSize, "block-size", ramdump.DefaultBlockSize, "Raw bytes per compressed block")
	packCmd.Flags().StringVar(&codecName, "codec", "fastlz", "Block codec (fastlz, lz4)")
	packCmd.Flags().StringVar(&sidecarPath, "sidecar", "", "Take header fields from this sidecar")
	packCmd.Flags().StringVar(&esfAddr, "esf", "0", "Register frame address")
	packCmd.Flags().StringVar(&currentThread, "current-thread", "0", "Current thread pointer")
	packCmd.Flags().Uint8Var(&targetType, "target-type", 0, "Target type byte")
	_ = packCmd.MarkFlagRequired("input")
	_ = packCmd.MarkFlagRequired("output")
}

func runPack(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	codec, err := ramdump.ParseCodec(codecName)
	if err != nil {
		return err
	}
	opts := ramdump.EncodeOptions{
		BlockSize:  blockSize,
		Codec:      codec,
		TargetType: targetType,
	}
	if sidecarPath != "" {
		sc, err := ramdump.LoadSidecar(sidecarPath)
		if err != nil {
			return err
		}
		opts.ESFAddr = sc.ESFAddr
		opts.CurrentThread = sc.CurrentThread
		opts.TargetType = sc.TargetType
	} else {
		if opts.ESFAddr, err = parseAddr(esfAddr); err != nil {
			return fmt.Errorf("invalid --esf: %w", err)
		}
		if opts.CurrentThread, err = parseAddr(currentThread); err != nil {
			return fmt.Errorf("invalid --current-thread: %w", err)
		}
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Snapshot Pack", "ramdump pack",
		ui.Field{Key: "Regions", Value: inputPath},
		ui.Field{Key: "Output", Value: outputPath},
		ui.Field{Key: "Codec", Value: codec.String()},
	)

	var buf bytes.Buffer
	stats, err := ramdump.PackDir(inputPath, &buf, opts)
	if err != nil {
		p.PrintResult(ui.NewFailureResult("Pack failed", err, []string{
			"Region files must be named <address>.bin, e.g. 0x20000000.bin",
		}))
		return err
	}
	if err := writeFile(outputPath, buf.Bytes()); err != nil {
		return err
	}

	p.PrintResult(ui.NewSuccessResult("Pack complete",
		ui.Field{Key: "Regions", Value: strconv.Itoa(stats.Regions)},
		ui.Field{Key: "Blocks", Value: strconv.Itoa(stats.Blocks)},
		ui.Field{Key: "Raw", Value: fmt.Sprintf("%d bytes", stats.OrgSize)},
		ui.Field{Key: "Container", Value: fmt.Sprintf("%d bytes", stats.TotalSize)},
		ui.Field{Key: "Ratio", Value: fmt.Sprintf("%.1f%%", stats.Ratio()*100)},
	))
	return nil
}

// infoCmd implements the 'info' command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a container's header and regions",
	Example: `  ramdump info --input snap.bin`,
	RunE:    runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Container file")
	_ = infoCmd.MarkFlagRequired("input")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	img, err := decodeFile(inputPath)
	if err != nil {
		return err
	}
	return ui.RenderOnce(renderInfo(inputPath, img))
}

func renderInfo(path string, img *ramdump.Image) string {
	h := img.Header
	header := ui.RenderTable([]string{"Field", "Value"}, [][]string{
		{"File", path},
		{"Version", fmt.Sprintf("%d (%s)", h.Version, img.Codec())},
		{"Image size", strconv.FormatUint(uint64(h.ImgSize), 10)},
		{"Raw size", strconv.FormatUint(uint64(h.OrgSize), 10)},
		{"ESF address", fmt.Sprintf("0x%08x", h.ESFAddr)},
		{"Current thread", fmt.Sprintf("0x%08x", h.CurrentThread)},
		{"Target type", strconv.Itoa(int(h.TargetType))},
	})

	rows := make([][]string, 0, len(img.Regions))
	for _, r := range img.Regions {
		rows = append(rows, []string{
			fmt.Sprintf("0x%08x", r.Address),
			fmt.Sprintf("0x%08x", r.End()),
			strconv.Itoa(len(r.Data)),
			strconv.FormatUint(uint64(r.CompressedSize), 10),
			strconv.Itoa(r.Blocks),
		})
	}
	regions := ui.RenderTable([]string{"Start", "End", "Size", "Stored", "Blocks"}, rows, 2, 3, 4)

	return header + "\n" + regions
}

// decodeFile reads and decodes a container, logging its head on failure.
func decodeFile(path string) (*ramdump.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	img, err := ramdump.Decode(data)
	if err != nil {
		logging.LogRawBytes("container decode failed", data)
		return nil, err
	}
	return img, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// parseAddr accepts decimal or 0x-prefixed hex.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
