package mux

import (
	"encoding/binary"
	"testing"
)

func TestEncodeBlockCRCRoundTrip(t *testing.T) {
	block := EncodeBlock([]byte("hello world"), true, true)
	if !VerifyBlockCRC(block) {
		t.Fatal("expected a freshly encoded block's CRC to verify")
	}
}

func TestEncodeBlockCorruptedHeaderFailsCRC(t *testing.T) {
	block := EncodeBlock([]byte("hello world"), false, false)
	block[12] ^= 0xFF // flip a flag bit
	if VerifyBlockCRC(block) {
		t.Fatal("expected a corrupted header to fail CRC verification")
	}
}

func TestEncodeBlockSizeField(t *testing.T) {
	payload := []byte("0123456789")
	block := EncodeBlock(payload, false, false)
	size := binary.BigEndian.Uint32(block[8:12])
	if int(size) != len(payload) {
		t.Fatalf("size field: got %d, want %d", size, len(payload))
	}
	if len(block) != metacubeHeaderLen+len(payload) {
		t.Fatalf("block length: got %d, want %d", len(block), metacubeHeaderLen+len(payload))
	}
}

func TestEncodeBlockFlags(t *testing.T) {
	block := EncodeBlock(nil, true, false)
	flags := binary.BigEndian.Uint16(block[12:14])
	if flags&FlagHeader == 0 {
		t.Fatal("expected FlagHeader set")
	}
	if flags&FlagKeyframe != 0 {
		t.Fatal("did not expect FlagKeyframe set")
	}
}

func TestEncodeNextBlockPtsRoundTrip(t *testing.T) {
	block := EncodeNextBlockPts(MetadataNextBlockPts{Pts: 123456, TimebaseNumer: 1, TimebaseDenom: 12_000_000})
	if !VerifyBlockCRC(block) {
		t.Fatal("expected NEXT_BLOCK_PTS block's CRC to verify")
	}
	flags := binary.BigEndian.Uint16(block[12:14])
	if flags&FlagMetadata == 0 {
		t.Fatal("expected FlagMetadata set")
	}
}

func TestEncodeEncoderTimestampRoundTrip(t *testing.T) {
	block := EncodeEncoderTimestamp(MetadataEncoderTimestamp{TvSec: 1700000000, TvNsec: 500})
	if !VerifyBlockCRC(block) {
		t.Fatal("expected ENCODER_TIMESTAMP block's CRC to verify")
	}
}

func TestVerifyBlockCRCRejectsTruncatedBlock(t *testing.T) {
	if VerifyBlockCRC([]byte{1, 2, 3}) {
		t.Fatal("expected a too-short block to fail verification")
	}
}
