// Copyright (c) 2025 Niema Moshiri and The Zaparoo Project.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of archvfs.
//
// archvfs is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// archvfs is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with archvfs.  If not, see <https://www.gnu.org/licenses/>.

package codec

import (
	"testing"
	"time"
)

func TestDecodeASCII(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("HELLO      "), "HELLO"},
		{[]byte("HELLO\x00\x00\x00"), "HELLO"},
		{[]byte("   "), ""},
	}
	for _, c := range cases {
		if got := DecodeASCII(c.in); got != c.want {
			t.Errorf("DecodeASCII(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecodeUTF16BE(t *testing.T) {
	// "AB" encoded as big-endian UCS-2.
	in := []byte{0x00, 'A', 0x00, 'B'}
	if got := DecodeUTF16BE(in); got != "AB" {
		t.Errorf("DecodeUTF16BE = %q, want %q", got, "AB")
	}
}

func TestDecodeCP437ASCIIPassthrough(t *testing.T) {
	in := []byte("readme.txt")
	if got := DecodeCP437(in); got != "readme.txt" {
		t.Errorf("DecodeCP437 ascii = %q, want %q", got, "readme.txt")
	}
}

func TestDecodeCP437HighBytes(t *testing.T) {
	// 0x87 is 'ç' in code page 437.
	in := []byte{0x87}
	if got := DecodeCP437(in); got != "ç" {
		t.Errorf("DecodeCP437(0x87) = %q, want %q", got, "ç")
	}
}

func TestDecodeMSDOSDateTime(t *testing.T) {
	// 2023-06-15 13:45:30, encoded per the ZIP date/time bit layout.
	date := uint16((2023-1980)<<9 | 6<<5 | 15)
	timeField := uint16(13<<11 | 45<<5 | 15) // seconds field stores seconds/2

	got := DecodeMSDOSDateTime(date, timeField)
	want := time.Date(2023, time.June, 15, 13, 45, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DecodeMSDOSDateTime = %v, want %v", got, want)
	}
}

func TestRecordingDate(t *testing.T) {
	b := []byte{123, 6, 15, 13, 45, 30, 0} // year 2023, June 15, 13:45:30
	got := RecordingDate(b)
	want := time.Date(2023, time.June, 15, 13, 45, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("RecordingDate = %v, want %v", got, want)
	}
}

func TestLongFormDateZero(t *testing.T) {
	b := []byte("0000000000000000\x00")
	if got := LongFormDate(b); !got.IsZero() {
		t.Errorf("LongFormDate(all zero) = %v, want zero time", got)
	}
}

func TestLongFormDateValid(t *testing.T) {
	b := []byte("20230615134530\x00\x00\x00")
	got := LongFormDate(b)
	want := time.Date(2023, time.June, 15, 13, 45, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LongFormDate = %v, want %v", got, want)
	}
}
