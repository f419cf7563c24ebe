package ramdump

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic identifies a container ("RAMD" little-endian).
	Magic uint32 = 0x444d4152
	// BlockMagic identifies a compressed block header ("LZ4 " little-endian).
	// Devices use it for every block regardless of the block codec.
	BlockMagic uint32 = 0x20345a4c

	HeaderSize       = 32
	RegionHeaderSize = 16
	BlockHeaderSize  = 16

	// MaxBlockSize bounds the declared decompressed size of a single block.
	MaxBlockSize = 0x1000000

	// DefaultBlockSize is the raw chunk size used when packing regions.
	DefaultBlockSize = 32768
)

// Header is the fixed-size container header.
type Header struct {
	Magic         uint32
	Version       uint32
	ImgSize       uint32 // bytes of region records following the header
	OrgSize       uint32 // total raw bytes across all regions
	ESFAddr       uint32 // address of the saved register frame
	CurrentThread uint32
	TargetType    uint8
	Reserved      [7]uint8
}

// RegionHeader precedes each region payload.
type RegionHeader struct {
	MemAddr uint32
	MemSize uint32
	ImgOff  uint32 // always zero
	ImgSize uint32 // payload bytes, block headers and padding included
}

// BlockHeader precedes each compressed block.
type BlockHeader struct {
	Magic   uint32
	HdrSize uint32
	ImgSize uint32
	OrgSize uint32
}

// Codec selects the block compression algorithm. It is stored in the
// container header version field.
type Codec uint32

const (
	// CodecLegacy is version 0; its blocks decode as FastLZ.
	CodecLegacy Codec = 0
	// CodecFastLZ is the FastLZ level-2 format written by devices.
	CodecFastLZ Codec = 1
	// CodecLZ4 is raw LZ4 block format.
	CodecLZ4 Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecLegacy:
		return "fastlz (v0)"
	case CodecFastLZ:
		return "fastlz"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(c))
	}
}

// ParseCodec parses a codec name as accepted on the command line.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "fastlz", "":
		return CodecFastLZ, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown block codec %q (want fastlz or lz4)", name)
	}
}

func parseHeader(b []byte) Header {
	h := Header{
		Magic:         binary.LittleEndian.Uint32(b[0:]),
		Version:       binary.LittleEndian.Uint32(b[4:]),
		ImgSize:       binary.LittleEndian.Uint32(b[8:]),
		OrgSize:       binary.LittleEndian.Uint32(b[12:]),
		ESFAddr:       binary.LittleEndian.Uint32(b[16:]),
		CurrentThread: binary.LittleEndian.Uint32(b[20:]),
		TargetType:    b[24],
	}
	copy(h.Reserved[:], b[25:32])
	return h
}

func (h Header) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint32(b, h.Version)
	b = binary.LittleEndian.AppendUint32(b, h.ImgSize)
	b = binary.LittleEndian.AppendUint32(b, h.OrgSize)
	b = binary.LittleEndian.AppendUint32(b, h.ESFAddr)
	b = binary.LittleEndian.AppendUint32(b, h.CurrentThread)
	b = append(b, h.TargetType)
	return append(b, h.Reserved[:]...)
}

func parseRegionHeader(b []byte) RegionHeader {
	return RegionHeader{
		MemAddr: binary.LittleEndian.Uint32(b[0:]),
		MemSize: binary.LittleEndian.Uint32(b[4:]),
		ImgOff:  binary.LittleEndian.Uint32(b[8:]),
		ImgSize: binary.LittleEndian.Uint32(b[12:]),
	}
}

func (r RegionHeader) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.MemAddr)
	b = binary.LittleEndian.AppendUint32(b, r.MemSize)
	b = binary.LittleEndian.AppendUint32(b, r.ImgOff)
	return binary.LittleEndian.AppendUint32(b, r.ImgSize)
}

func parseBlockHeader(b []byte) BlockHeader {
	return BlockHeader{
		Magic:   binary.LittleEndian.Uint32(b[0:]),
		HdrSize: binary.LittleEndian.Uint32(b[4:]),
		ImgSize: binary.LittleEndian.Uint32(b[8:]),
		OrgSize: binary.LittleEndian.Uint32(b[12:]),
	}
}

func (h BlockHeader) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint32(b, h.HdrSize)
	b = binary.LittleEndian.AppendUint32(b, h.ImgSize)
	return binary.LittleEndian.AppendUint32(b, h.OrgSize)
}

// padding returns the number of zero bytes that align n to 4.
func padding(n int) int {
	return (4 - n%4) % 4
}
