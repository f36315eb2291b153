// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mseed

import (
	"encoding/binary"
	"fmt"
)

const steimFrameLen = 64

// decodeSteim decodes Steim-1 or Steim-2 compressed frames. Steim frames are
// always big-endian regardless of the header byte order.
func decodeSteim(payload []byte, numSamples, version int) ([]int32, error) {
	if len(payload) < steimFrameLen {
		return nil, fmt.Errorf("steim payload of %d bytes shorter than one frame", len(payload))
	}
	numFrames := len(payload) / steimFrameLen

	diffs := make([]int32, 0, numSamples+8)
	var x0, xn int32
	for f := 0; f < numFrames && len(diffs) < numSamples; f++ {
		frame := payload[f*steimFrameLen : (f+1)*steimFrameLen]
		nibbles := binary.BigEndian.Uint32(frame[0:4])
		for w := 1; w < 16; w++ {
			nibble := (nibbles >> (30 - 2*uint(w))) & 0x3
			word := binary.BigEndian.Uint32(frame[4*w : 4*w+4])
			if f == 0 && w == 1 {
				x0 = int32(word)
				continue
			}
			if f == 0 && w == 2 {
				xn = int32(word)
				continue
			}
			switch version {
			case 1:
				decodeSteim1Word(nibble, word, &diffs)
			case 2:
				decodeSteim2Word(nibble, word, &diffs)
			}
		}
	}
	if len(diffs) < numSamples {
		return nil, fmt.Errorf("steim%d frames yielded %d diffs, need %d", version, len(diffs), numSamples)
	}

	// First difference is against the previous record; X0 anchors the series.
	samples := make([]int32, numSamples)
	samples[0] = x0
	for i := 1; i < numSamples; i++ {
		samples[i] = samples[i-1] + diffs[i]
	}
	if samples[numSamples-1] != xn {
		return nil, fmt.Errorf("steim%d reverse integration constant mismatch: got %d want %d",
			version, samples[numSamples-1], xn)
	}
	return samples, nil
}

func decodeSteim1Word(nibble uint32, word uint32, diffs *[]int32) {
	switch nibble {
	case 1: // four 8-bit differences
		for s := 0; s < 4; s++ {
			*diffs = append(*diffs, int32(int8(word>>(24-8*uint(s)))))
		}
	case 2: // two 16-bit differences
		*diffs = append(*diffs, int32(int16(word>>16)), int32(int16(word)))
	case 3: // one 32-bit difference
		*diffs = append(*diffs, int32(word))
	}
}

func decodeSteim2Word(nibble uint32, word uint32, diffs *[]int32) {
	switch nibble {
	case 1: // four 8-bit differences
		for s := 0; s < 4; s++ {
			*diffs = append(*diffs, int32(int8(word>>(24-8*uint(s)))))
		}
	case 2:
		dnib := word >> 30
		switch dnib {
		case 1: // one 30-bit difference
			*diffs = append(*diffs, signExtend(word&0x3fffffff, 30))
		case 2: // two 15-bit differences
			*diffs = append(*diffs, signExtend((word>>15)&0x7fff, 15), signExtend(word&0x7fff, 15))
		case 3: // three 10-bit differences
			for s := 0; s < 3; s++ {
				*diffs = append(*diffs, signExtend((word>>(20-10*uint(s)))&0x3ff, 10))
			}
		}
	case 3:
		dnib := word >> 30
		switch dnib {
		case 0: // five 6-bit differences
			for s := 0; s < 5; s++ {
				*diffs = append(*diffs, signExtend((word>>(24-6*uint(s)))&0x3f, 6))
			}
		case 1: // six 5-bit differences
			for s := 0; s < 6; s++ {
				*diffs = append(*diffs, signExtend((word>>(25-5*uint(s)))&0x1f, 5))
			}
		case 2: // seven 4-bit differences
			for s := 0; s < 7; s++ {
				*diffs = append(*diffs, signExtend((word>>(24-4*uint(s)))&0xf, 4))
			}
		}
	}
}

// signExtend interprets the low bits of v as a signed bits-wide integer.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
