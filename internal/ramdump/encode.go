package ramdump

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// EncodeOptions controls container construction.
type EncodeOptions struct {
	// BlockSize is the raw chunk size per compressed block. Zero means
	// DefaultBlockSize.
	BlockSize int
	// Codec selects the block compressor and is written as the header version.
	Codec         Codec
	ESFAddr       uint32
	CurrentThread uint32
	TargetType    uint8
}

// EncodeStats summarizes a finished encode.
type EncodeStats struct {
	Regions   int
	Blocks    int
	OrgSize   uint32
	ImgSize   uint32
	TotalSize int
}

// Ratio returns the compressed-to-raw size ratio of the region payloads.
func (s *EncodeStats) Ratio() float64 {
	if s.OrgSize == 0 {
		return 0
	}
	return float64(s.ImgSize) / float64(s.OrgSize)
}

// Encode builds a container from regions and writes it to w.
func Encode(w io.Writer, regions []Region, opts EncodeOptions) (*EncodeStats, error) {
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("block size %d out of range (1..%d)", blockSize, MaxBlockSize)
	}
	if opts.Codec != CodecFastLZ && opts.Codec != CodecLZ4 {
		return nil, fmt.Errorf("cannot encode with codec %s", opts.Codec)
	}

	stats := &EncodeStats{Regions: len(regions)}
	var body []byte
	var orgSize uint64

	for _, r := range regions {
		var payload []byte
		for off := 0; off < len(r.Data); off += blockSize {
			end := min(off+blockSize, len(r.Data))
			compressed, err := compressBlock(opts.Codec, r.Data[off:end])
			if err != nil {
				return nil, fmt.Errorf("region 0x%08x block %d: %w", r.Address, off/blockSize, err)
			}
			payload = BlockHeader{
				Magic:   BlockMagic,
				HdrSize: BlockHeaderSize,
				ImgSize: uint32(len(compressed)),
				OrgSize: uint32(end - off),
			}.appendTo(payload)
			payload = append(payload, compressed...)
			payload = append(payload, make([]byte, padding(len(compressed)))...)
			stats.Blocks++
		}

		body = RegionHeader{
			MemAddr: r.Address,
			MemSize: uint32(len(r.Data)),
			ImgSize: uint32(len(payload)),
		}.appendTo(body)
		body = append(body, payload...)
		orgSize += uint64(len(r.Data))
	}

	if uint64(len(body)) > 0xffffffff || orgSize > 0xffffffff {
		return nil, fmt.Errorf("container too large: %d raw bytes", orgSize)
	}

	hdr := Header{
		Magic:         Magic,
		Version:       uint32(opts.Codec),
		ImgSize:       uint32(len(body)),
		OrgSize:       uint32(orgSize),
		ESFAddr:       opts.ESFAddr,
		CurrentThread: opts.CurrentThread,
		TargetType:    opts.TargetType,
	}
	out := hdr.appendTo(make([]byte, 0, HeaderSize+len(body)))
	out = append(out, body...)

	if _, err := w.Write(out); err != nil {
		return nil, fmt.Errorf("failed to write container: %w", err)
	}

	stats.OrgSize = hdr.OrgSize
	stats.ImgSize = hdr.ImgSize
	stats.TotalSize = len(out)
	return stats, nil
}

// ReadRegionDir loads every "<hexaddr>.bin" file in dir, sorted by address.
// Other files are ignored.
func ReadRegionDir(dir string) ([]Region, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read region directory: %w", err)
	}

	var regions []Region
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		addr, ok := parseRegionFileName(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read region file: %w", err)
		}
		regions = append(regions, Region{Address: addr, Data: data})
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Address < regions[j].Address
	})
	return regions, nil
}

// PackDir encodes the region files found in dir into w.
func PackDir(dir string, w io.Writer, opts EncodeOptions) (*EncodeStats, error) {
	regions, err := ReadRegionDir(dir)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no <address>.bin region files in %s", dir)
	}
	return Encode(w, regions, opts)
}

// parseRegionFileName accepts "0x20000000.bin" and "20000000.bin".
func parseRegionFileName(name string) (uint32, bool) {
	base, ok := strings.CutSuffix(name, ".bin")
	if !ok {
		return 0, false
	}
	base = strings.TrimPrefix(strings.TrimPrefix(base, "0x"), "0X")
	v, err := strconv.ParseUint(base, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
