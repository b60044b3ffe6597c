// Package codec frames and compresses the store's persisted lookup indices
// (UID->IID, fragment->placement and partition membership).
//
// A frame is a fixed 16-byte header (magic, version, CRC32C, block length)
// followed by a block. A block records its own compression (None, LZ4 or
// ZSTD) so readers never need to know how a file was written; a block that
// does not compress by at least 10% is stored raw.
package codec
