// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mseed

import (
	"encoding/binary"
	"fmt"
	"time"
)

// EncodeInt32Records builds big-endian 512-byte miniSEED records with INT32
// encoding from a contiguous sample run. It exists for tests and synthetic
// data generation; production data comes from the archive already encoded.
func EncodeInt32Records(seg Segment) ([]byte, error) {
	if seg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}
	const recLen = 512
	const dataStart = 64
	perRecord := (recLen - dataStart) / 4

	var out []byte
	seq := 1
	for off := 0; off < len(seg.Samples); off += perRecord {
		n := len(seg.Samples) - off
		if n > perRecord {
			n = perRecord
		}
		start := seg.Start.Add(time.Duration(float64(off) / seg.SampleRate * float64(time.Second)))
		rec := make([]byte, recLen)
		copy(rec[0:6], fmt.Sprintf("%06d", seq))
		rec[6] = 'D'
		rec[7] = ' '
		copy(rec[8:13], pad(seg.Station, 5))
		copy(rec[13:15], pad(seg.Location, 2))
		copy(rec[15:18], pad(seg.Channel, 3))
		copy(rec[18:20], pad(seg.Network, 2))
		encodeBTime(rec[20:30], start)
		binary.BigEndian.PutUint16(rec[30:32], uint16(n))
		binary.BigEndian.PutUint16(rec[32:34], uint16(int16(seg.SampleRate)))
		binary.BigEndian.PutUint16(rec[34:36], uint16(int16(1)))
		rec[39] = 1 // one blockette
		binary.BigEndian.PutUint16(rec[44:46], dataStart)
		binary.BigEndian.PutUint16(rec[46:48], 48)
		// Blockette 1000 at offset 48.
		binary.BigEndian.PutUint16(rec[48:50], 1000)
		binary.BigEndian.PutUint16(rec[50:52], 0)
		rec[52] = byte(EncodingInt32)
		rec[53] = 1 // big-endian word order
		rec[54] = 9 // 2^9 = 512
		for i := 0; i < n; i++ {
			binary.BigEndian.PutUint32(rec[dataStart+4*i:dataStart+4*i+4], uint32(seg.Samples[off+i]))
		}
		out = append(out, rec...)
		seq++
	}
	return out, nil
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func encodeBTime(b []byte, t time.Time) {
	t = t.UTC()
	binary.BigEndian.PutUint16(b[0:2], uint16(t.Year()))
	binary.BigEndian.PutUint16(b[2:4], uint16(t.YearDay()))
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	binary.BigEndian.PutUint16(b[8:10], uint16(t.Nanosecond()/int(time.Second/tickS)))
}
