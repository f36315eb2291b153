// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mseed

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steimFrame builds one 64-byte frame from a nibbles word and data words.
func steimFrame(nibbles uint32, words ...uint32) []byte {
	frame := make([]byte, steimFrameLen)
	binary.BigEndian.PutUint32(frame[0:4], nibbles)
	for i, w := range words {
		binary.BigEndian.PutUint32(frame[4*(i+1):4*(i+2)], w)
	}
	return frame
}

func nibblesAt(codes map[int]uint32) uint32 {
	var n uint32
	for w, c := range codes {
		n |= c << (30 - 2*uint(w))
	}
	return n
}

func TestDecodeSteim1ByteDiffs(t *testing.T) {
	// Samples 10, 11, 9, 12. X0=10, Xn=12, diffs (0), 1, -2, 3 packed as
	// four 8-bit differences in word 3.
	negTwo := int8(-2)
	word3 := uint32(0)<<24 | uint32(uint8(1))<<16 | uint32(uint8(negTwo))<<8 | uint32(uint8(3))
	frame := steimFrame(nibblesAt(map[int]uint32{3: 1}), 10, 12, word3)

	samples, err := decodeSteim(frame, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 11, 9, 12}, samples)
}

func TestDecodeSteim1HalfwordAndWordDiffs(t *testing.T) {
	// Samples 1000, 2000, 1500, 100000. Diffs (0), 1000 as two 16-bit
	// halves, then -500 and 98500 as full words.
	neg500 := int32(-500)
	word3 := uint32(uint16(0))<<16 | uint32(uint16(1000))
	frame := steimFrame(nibblesAt(map[int]uint32{3: 2, 4: 3, 5: 3}),
		1000, 100000, word3, uint32(neg500), uint32(98500))

	samples, err := decodeSteim(frame, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{1000, 2000, 1500, 100000}, samples)
}

func TestDecodeSteim2TenBitDiffs(t *testing.T) {
	// Samples 100, 105, 102 from diffs (0), 5, -3 as three 10-bit values.
	negThree := int32(-3)
	word3 := uint32(3)<<30 |
		(uint32(0)&0x3ff)<<20 |
		(uint32(5)&0x3ff)<<10 |
		(uint32(negThree) & 0x3ff)
	frame := steimFrame(nibblesAt(map[int]uint32{3: 2}), 100, 102, word3)

	samples, err := decodeSteim(frame, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{100, 105, 102}, samples)
}

func TestDecodeSteim2FifteenBitDiffs(t *testing.T) {
	// Diffs (0), 12000 as two 15-bit values; samples 500, 12500.
	word3 := uint32(2)<<30 |
		(uint32(0)&0x7fff)<<15 |
		(uint32(12000) & 0x7fff)
	frame := steimFrame(nibblesAt(map[int]uint32{3: 2}), 500, 12500, word3)

	samples, err := decodeSteim(frame, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{500, 12500}, samples)
}

func TestDecodeSteimXnMismatch(t *testing.T) {
	word3 := uint32(0)<<24 | uint32(uint8(1))<<16 | uint32(uint8(1))<<8 | uint32(uint8(1))
	frame := steimFrame(nibblesAt(map[int]uint32{3: 1}), 10, 9999, word3)
	_, err := decodeSteim(frame, 4, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integration constant")
}

func TestDecodeSteimTooShort(t *testing.T) {
	_, err := decodeSteim(make([]byte, 32), 10, 1)
	require.Error(t, err)
}

func TestDecodeSteimNotEnoughDiffs(t *testing.T) {
	frame := steimFrame(0, 10, 10)
	_, err := decodeSteim(frame, 50, 1)
	require.Error(t, err)
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int32(-1), signExtend(0x3ff, 10))
	assert.Equal(t, int32(511), signExtend(0x1ff, 10))
	assert.Equal(t, int32(-512), signExtend(0x200, 10))
	negThree := int32(-3)
	assert.Equal(t, int32(-3), signExtend(uint32(negThree)&0x3ff, 10))
}
