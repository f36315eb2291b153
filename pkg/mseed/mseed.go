// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package mseed decodes miniSEED v2 data records into time-stamped segments
// of int32 samples. Supported encodings are INT16, INT32, Steim-1 and
// Steim-2, which covers everything the IRIS dataselect service returns for
// high-rate seismic channels.
package mseed

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Data encodings from the SEED manual, appendix A.
type Encoding uint8

const (
	EncodingASCII  Encoding = 0
	EncodingInt16  Encoding = 1
	EncodingInt32  Encoding = 3
	EncodingSteim1 Encoding = 10
	EncodingSteim2 Encoding = 11
)

const (
	fixedHeaderLen = 48
	// fallbackRecordLen is used when a record carries no blockette 1000.
	fallbackRecordLen = 512
	// tickS is the SEED sub-second unit (0.0001 s).
	tickS = 10000
)

// Segment is the decoded payload of one data record.
type Segment struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Start      time.Time
	SampleRate float64
	Samples    []int32
}

// End is the time just after the last sample.
func (s Segment) End() time.Time {
	if s.SampleRate <= 0 {
		return s.Start
	}
	d := time.Duration(float64(len(s.Samples)) / s.SampleRate * float64(time.Second))
	return s.Start.Add(d)
}

// Parse decodes a concatenated stream of miniSEED records.
// Records that cannot be decoded produce an error; the archive does not
// send partial records on a healthy response.
func Parse(data []byte) ([]Segment, error) {
	var segs []Segment
	offset := 0
	for offset < len(data) {
		if len(data)-offset < fixedHeaderLen {
			return nil, fmt.Errorf("trailing %d bytes at offset %d too short for a record header", len(data)-offset, offset)
		}
		seg, recLen, err := parseRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}
		if len(seg.Samples) > 0 {
			segs = append(segs, seg)
		}
		offset += recLen
	}
	return segs, nil
}

// parseRecord decodes one record and returns it with its total length.
func parseRecord(rec []byte) (Segment, int, error) {
	bo, err := headerByteOrder(rec)
	if err != nil {
		return Segment{}, 0, err
	}

	seg := Segment{
		Station:  strings.TrimSpace(string(rec[8:13])),
		Location: strings.TrimSpace(string(rec[13:15])),
		Channel:  strings.TrimSpace(string(rec[15:18])),
		Network:  strings.TrimSpace(string(rec[18:20])),
	}

	start, err := parseBTime(rec[20:30], bo)
	if err != nil {
		return Segment{}, 0, err
	}
	numSamples := int(bo.Uint16(rec[30:32]))
	srFactor := int16(bo.Uint16(rec[32:34]))
	srMult := int16(bo.Uint16(rec[34:36]))
	activityFlags := rec[36]
	timeCorrection := int32(bo.Uint32(rec[40:44]))
	dataStart := int(bo.Uint16(rec[44:46]))
	firstBlockette := int(bo.Uint16(rec[46:48]))

	// Bit 1 of the activity flags marks the correction as already applied.
	if activityFlags&0x02 == 0 && timeCorrection != 0 {
		start = start.Add(time.Duration(timeCorrection) * time.Second / tickS)
	}
	seg.Start = start
	seg.SampleRate = sampleRate(srFactor, srMult)

	encoding, recLen, err := scanBlockettes(rec, firstBlockette, bo)
	if err != nil {
		return Segment{}, 0, err
	}
	if recLen > len(rec) {
		return Segment{}, 0, fmt.Errorf("record length %d exceeds available %d bytes", recLen, len(rec))
	}
	if numSamples == 0 {
		return seg, recLen, nil
	}
	if dataStart < fixedHeaderLen || dataStart >= recLen {
		return Segment{}, 0, fmt.Errorf("bad data offset %d", dataStart)
	}

	payload := rec[dataStart:recLen]
	switch encoding {
	case EncodingInt16:
		seg.Samples, err = decodeInt16(payload, numSamples, bo)
	case EncodingInt32:
		seg.Samples, err = decodeInt32(payload, numSamples, bo)
	case EncodingSteim1:
		seg.Samples, err = decodeSteim(payload, numSamples, 1)
	case EncodingSteim2:
		seg.Samples, err = decodeSteim(payload, numSamples, 2)
	default:
		err = fmt.Errorf("unsupported encoding %d", encoding)
	}
	if err != nil {
		return Segment{}, 0, err
	}
	return seg, recLen, nil
}

// headerByteOrder detects endianness from the plausibility of the year field.
// Standard miniSEED is big-endian but some legacy dataloggers write little.
func headerByteOrder(rec []byte) (binary.ByteOrder, error) {
	yearBE := binary.BigEndian.Uint16(rec[20:22])
	if yearBE >= 1900 && yearBE <= 2100 {
		return binary.BigEndian, nil
	}
	yearLE := binary.LittleEndian.Uint16(rec[20:22])
	if yearLE >= 1900 && yearLE <= 2100 {
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("implausible record start year (be=%d le=%d)", yearBE, yearLE)
}

// parseBTime decodes the 10-byte SEED BTime structure.
func parseBTime(b []byte, bo binary.ByteOrder) (time.Time, error) {
	year := int(bo.Uint16(b[0:2]))
	doy := int(bo.Uint16(b[2:4]))
	hour := int(b[4])
	min := int(b[5])
	sec := int(b[6])
	fract := int(bo.Uint16(b[8:10]))
	if doy < 1 || doy > 366 {
		return time.Time{}, fmt.Errorf("bad day-of-year %d", doy)
	}
	t := time.Date(year, 1, 1, hour, min, sec, fract*int(time.Second/tickS), time.UTC)
	return t.AddDate(0, 0, doy-1), nil
}

func sampleRate(factor, mult int16) float64 {
	var rate float64
	switch {
	case factor > 0:
		rate = float64(factor)
	case factor < 0:
		rate = -1.0 / float64(factor)
	default:
		return 0
	}
	switch {
	case mult > 0:
		rate *= float64(mult)
	case mult < 0:
		rate /= -float64(mult)
	}
	return rate
}

// scanBlockettes walks the blockette chain looking for blockette 1000,
// which carries the encoding and the record length.
func scanBlockettes(rec []byte, first int, bo binary.ByteOrder) (Encoding, int, error) {
	offset := first
	for iter := 0; offset != 0 && iter < 16; iter++ {
		if offset+4 > len(rec) {
			return 0, 0, fmt.Errorf("blockette offset %d out of record", offset)
		}
		bType := int(bo.Uint16(rec[offset : offset+2]))
		next := int(bo.Uint16(rec[offset+2 : offset+4]))
		if bType == 1000 {
			if offset+7 > len(rec) {
				return 0, 0, fmt.Errorf("truncated blockette 1000")
			}
			encoding := Encoding(rec[offset+4])
			recLenExp := int(rec[offset+6])
			if recLenExp < 8 || recLenExp > 20 {
				return 0, 0, fmt.Errorf("bad record length exponent %d", recLenExp)
			}
			return encoding, 1 << recLenExp, nil
		}
		if next != 0 && next <= offset {
			return 0, 0, fmt.Errorf("blockette chain does not advance at offset %d", offset)
		}
		offset = next
	}
	// Tolerate records without blockette 1000 by assuming the common size
	// and Steim-1, the SEED defaults for unannounced data.
	if len(rec) < fallbackRecordLen {
		return 0, 0, fmt.Errorf("no blockette 1000 and record shorter than %d", fallbackRecordLen)
	}
	return EncodingSteim1, fallbackRecordLen, nil
}

func decodeInt16(payload []byte, n int, bo binary.ByteOrder) ([]int32, error) {
	if len(payload) < 2*n {
		return nil, fmt.Errorf("int16 payload too short: %d bytes for %d samples", len(payload), n)
	}
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(int16(bo.Uint16(payload[2*i : 2*i+2])))
	}
	return out, nil
}

func decodeInt32(payload []byte, n int, bo binary.ByteOrder) ([]int32, error) {
	if len(payload) < 4*n {
		return nil, fmt.Errorf("int32 payload too short: %d bytes for %d samples", len(payload), n)
	}
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(bo.Uint32(payload[4*i : 4*i+4]))
	}
	return out, nil
}
