package ramdump

import (
	"fmt"
)

// Region is one contiguous captured memory range.
type Region struct {
	// Address is the memory base address of the region.
	Address uint32
	// Data holds the raw (decompressed) bytes.
	Data []byte
	// CompressedSize is the region payload size in the container,
	// block headers and padding included. Zero for regions not yet encoded.
	CompressedSize uint32
	// Blocks is the number of compressed blocks the region was stored in.
	Blocks int
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return uint64(r.Address) + uint64(len(r.Data))
}

// FileName returns the conventional raw file name for the region.
func (r Region) FileName() string {
	return fmt.Sprintf("0x%08x.bin", r.Address)
}

// Image is a decoded container.
type Image struct {
	Header  Header
	Regions []Region
	// Consumed is the number of container bytes walked by Decode.
	Consumed int
}

// Codec returns the block codec the container was written with.
func (img *Image) Codec() Codec {
	return Codec(img.Header.Version)
}

// OrgSize returns the declared total raw size.
func (img *Image) OrgSize() uint32 {
	return img.Header.OrgSize
}

// ImgSize returns the declared size of the region records.
func (img *Image) ImgSize() uint32 {
	return img.Header.ImgSize
}

// RawSize returns the number of decompressed bytes across all regions.
func (img *Image) RawSize() int {
	total := 0
	for _, r := range img.Regions {
		total += len(r.Data)
	}
	return total
}

// Decode parses a container and decompresses every region.
//
// The magic is validated before any region data is read. Any truncated
// structure, bad block magic, decoder failure or block whose decompressed
// length differs from its declared size fails the whole decode.
func Decode(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, &FormatError{
			Field:  "header",
			Detail: fmt.Sprintf("%d bytes, need %d", len(data), HeaderSize),
			Err:    ErrTruncated,
		}
	}

	hdr := parseHeader(data[:HeaderSize])
	if hdr.Magic != Magic {
		return nil, &FormatError{
			Field:  "magic",
			Detail: fmt.Sprintf("got 0x%08x, expected 0x%08x", hdr.Magic, Magic),
			Err:    ErrBadMagic,
		}
	}

	codec, err := codecForVersion(hdr.Version)
	if err != nil {
		return nil, &FormatError{
			Offset: 4,
			Field:  "version",
			Detail: fmt.Sprintf("version %d", hdr.Version),
			Err:    err,
		}
	}

	d := decoder{data: data, off: HeaderSize, codec: codec}
	img := &Image{Header: hdr}

	remaining := int64(hdr.ImgSize)
	for remaining > 0 {
		region, used, err := d.region(remaining)
		if err != nil {
			return nil, err
		}
		img.Regions = append(img.Regions, region)
		remaining -= used
	}

	img.Consumed = d.off
	return img, nil
}

type decoder struct {
	data  []byte
	off   int
	codec Codec
}

// take returns the next n bytes or a truncation error naming field.
func (d *decoder) take(n int, field string) ([]byte, error) {
	if n < 0 || d.off+n > len(d.data) {
		return nil, &FormatError{
			Offset: int64(d.off),
			Field:  field,
			Detail: fmt.Sprintf("need %d bytes, %d available", n, len(d.data)-d.off),
			Err:    ErrTruncated,
		}
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

// region decodes one region record within the remaining image budget and
// reports how many budget bytes it used.
func (d *decoder) region(budget int64) (Region, int64, error) {
	start := d.off
	if budget < RegionHeaderSize {
		return Region{}, 0, &FormatError{
			Offset: int64(start),
			Field:  "region header",
			Detail: fmt.Sprintf("%d bytes of image left, need %d", budget, RegionHeaderSize),
			Err:    ErrTruncated,
		}
	}
	b, err := d.take(RegionHeaderSize, "region header")
	if err != nil {
		return Region{}, 0, err
	}
	rh := parseRegionHeader(b)

	if int64(rh.ImgSize) > budget-RegionHeaderSize {
		return Region{}, 0, &FormatError{
			Offset: int64(start),
			Field:  "region img_size",
			Detail: fmt.Sprintf("region 0x%08x declares %d bytes, image has %d left",
				rh.MemAddr, rh.ImgSize, budget-RegionHeaderSize),
			Err: ErrSizeMismatch,
		}
	}

	payload, err := d.take(int(rh.ImgSize), "region payload")
	if err != nil {
		return Region{}, 0, err
	}

	raw := make([]byte, 0, min(rh.MemSize, MaxBlockSize))
	blocks := 0
	pos := 0
	for pos < len(payload) {
		blockOff := int64(start + RegionHeaderSize + pos)
		if len(payload)-pos < BlockHeaderSize {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block header",
				Detail: fmt.Sprintf("region 0x%08x has %d bytes left, need %d",
					rh.MemAddr, len(payload)-pos, BlockHeaderSize),
				Err: ErrTruncated,
			}
		}
		bh := parseBlockHeader(payload[pos:])
		if bh.Magic != BlockMagic {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block magic",
				Detail: fmt.Sprintf("got 0x%08x, expected 0x%08x", bh.Magic, BlockMagic),
				Err:    ErrBadMagic,
			}
		}
		if bh.HdrSize < BlockHeaderSize || int64(bh.HdrSize) > int64(len(payload)-pos) {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block hdr_size",
				Detail: fmt.Sprintf("hdr_size %d", bh.HdrSize),
				Err:    ErrSizeMismatch,
			}
		}
		if bh.OrgSize > MaxBlockSize {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block org_size",
				Detail: fmt.Sprintf("%d bytes exceeds limit %d", bh.OrgSize, MaxBlockSize),
				Err:    ErrBlockTooLarge,
			}
		}
		pos += int(bh.HdrSize)

		if int64(bh.ImgSize) > int64(len(payload)-pos) {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block payload",
				Detail: fmt.Sprintf("block declares %d bytes, region has %d left", bh.ImgSize, len(payload)-pos),
				Err:    ErrTruncated,
			}
		}
		compressed := payload[pos : pos+int(bh.ImgSize)]
		pos += int(bh.ImgSize)

		out, err := decompressBlock(d.codec, compressed, int(bh.OrgSize))
		if err != nil {
			return Region{}, 0, &BlockError{Region: rh.MemAddr, Block: blocks, Offset: blockOff, Err: err}
		}
		if len(out) != int(bh.OrgSize) {
			return Region{}, 0, &FormatError{
				Offset: blockOff,
				Field:  "block org_size",
				Detail: fmt.Sprintf("decompressed %d bytes, expected %d", len(out), bh.OrgSize),
				Err:    ErrSizeMismatch,
			}
		}
		raw = append(raw, out...)
		blocks++

		// Alignment padding, when the region budget still holds it.
		pad := padding(int(bh.ImgSize))
		if pad > len(payload)-pos {
			pad = len(payload) - pos
		}
		pos += pad
	}

	if len(raw) != int(rh.MemSize) {
		return Region{}, 0, &FormatError{
			Offset: int64(start),
			Field:  "region mem_size",
			Detail: fmt.Sprintf("region 0x%08x decompressed to %d bytes, expected %d", rh.MemAddr, len(raw), rh.MemSize),
			Err:    ErrSizeMismatch,
		}
	}

	return Region{
		Address:        rh.MemAddr,
		Data:           raw,
		CompressedSize: rh.ImgSize,
		Blocks:         blocks,
	}, int64(RegionHeaderSize) + int64(rh.ImgSize), nil
}
