// Package ramdump reads and writes the RAMD crash snapshot container.
//
// A container is a 32-byte header followed by region records. Each region
// record is a 16-byte region header and a payload of compressed blocks, each
// with its own 16-byte block header and 4-byte alignment padding. All
// integers are little-endian.
//
//	┌──────────────┐
//	│ Header (32)  │  magic "RAMD", version, img_size, org_size, esf_addr, ...
//	├──────────────┤
//	│ Region (16)  │  mem_addr, mem_size, img_off, img_size
//	│  Block (16)  │  magic "LZ4 ", hdr_size, img_size, org_size
//	│  payload     │  compressed bytes, zero-padded to 4
//	│  Block ...   │
//	├──────────────┤
//	│ Region ...   │
//	└──────────────┘
//
// # Block codecs
//
// The header version selects the block codec. Versions 0 and 1 hold
// FastLZ level-2 blocks, the format devices emit. Version 2 holds raw LZ4
// blocks. The block magic is "LZ4 " in both cases.
//
// # Sidecar
//
// Unpacking writes one "0x<addr>.bin" file per region plus a JSON sidecar
// recording the file paths, addresses, BLAKE3 digests and the register
// frame address. The replay tools consume the sidecar.
package ramdump
