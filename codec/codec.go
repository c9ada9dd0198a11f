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

// Package codec decodes the handful of text and date encodings the two
// archive formats use for names and timestamps: plain ASCII, UTF-8, the
// UTF-16BE (UCS-2) names Joliet stores, CP437 for legacy ZIP names, and the
// little-endian MS-DOS date/time pair ZIP local and central headers carry.
package codec

import (
	"strings"
	"time"
	"unicode/utf16"
)

// DecodeASCII truncates a fixed-width ISO 9660 text field at its first NUL
// byte and trims trailing spaces.
func DecodeASCII(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	return strings.TrimRight(string(b[:end]), " ")
}

// DecodeUTF16BE decodes a Joliet name, stored as big-endian UCS-2 code
// units, into a Go string. An odd trailing byte is ignored.
func DecodeUTF16BE(b []byte) string {
	n := len(b) / 2
	units := make([]uint16, n)
	for i := range n {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units))
}

// DecodeCP437 decodes legacy (pre-UTF-8-flag) ZIP entry names, which are
// encoded in IBM code page 437.
func DecodeCP437(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
			continue
		}
		sb.WriteRune(cp437High[c-0x80])
	}
	return sb.String()
}

// cp437High maps bytes 0x80-0xFF of code page 437 to their Unicode runes.
var cp437High = [128]rune{
	'Ç', 'ü', 'é', 'â', 'ä', 'à', 'å', 'ç', 'ê', 'ë', 'è', 'ï', 'î', 'ì', 'Ä', 'Å',
	'É', 'æ', 'Æ', 'ô', 'ö', 'ò', 'û', 'ù', 'ÿ', 'Ö', 'Ü', '¢', '£', '¥', '₧', 'ƒ',
	'á', 'í', 'ó', 'ú', 'ñ', 'Ñ', 'ª', 'º', '¿', '⌐', '¬', '½', '¼', '¡', '«', '»',
	'░', '▒', '▓', '│', '┤', '╡', '╢', '╖', '╕', '╣', '║', '╗', '╝', '╜', '╛', '┐',
	'└', '┴', '┬', '├', '─', '┼', '╞', '╟', '╚', '╔', '╩', '╦', '╠', '═', '╬', '╧',
	'╨', '╤', '╥', '╙', '╘', '╒', '╓', '╫', '╪', '┘', '┌', '█', '▄', '▌', '▐', '▀',
	'α', 'ß', 'Γ', 'π', 'Σ', 'σ', 'µ', 'τ', 'Φ', 'Θ', 'Ω', 'δ', '∞', 'φ', 'ε', '∩',
	'≡', '±', '≥', '≤', '⌠', '⌡', '÷', '≈', '°', '∙', '·', '√', 'ⁿ', '²', '■', ' ',
}

// DecodeMSDOSDateTime decodes a ZIP-style MS-DOS date/time pair into a time
// in UTC. Out-of-range fields clamp to the nearest legal value: month to
// 1-12, day to 1 through the last day of that month, hour to 23, and minute
// and second to 59.
func DecodeMSDOSDateTime(date, timeField uint16) time.Time {
	year := int(date>>9&0x7F) + 1980
	month := int(date >> 5 & 0x0F)
	day := int(date & 0x1F)
	if month < 1 {
		month = 1
	} else if month > 12 {
		month = 12
	}
	if day < 1 {
		day = 1
	} else if last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}

	hour := min(int(timeField>>11&0x1F), 23)
	minute := min(int(timeField>>5&0x3F), 59)
	second := min(int(timeField&0x1F)*2, 59)

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// RecordingDate decodes the 7-byte short-form recording date carried by an
// ISO 9660 directory record: year offset from 1900, month, day, hour,
// minute, second, and a GMT offset in 15-minute units (ignored here — all
// exposed timestamps are UTC).
func RecordingDate(b []byte) time.Time {
	if len(b) < 7 {
		return time.Time{}
	}
	year := 1900 + int(b[0])
	month := int(b[1])
	day := int(b[2])
	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, int(b[3]), int(b[4]), int(b[5]), 0, time.UTC)
}

// LongFormDate decodes the 17-byte ASCII long-form date/time carried by
// volume descriptors: "YYYYMMDDHHMMSSCC" followed by a GMT offset byte
// (ignored). An all-zero/all-space field, meaning "not specified", decodes
// to the zero time.
func LongFormDate(b []byte) time.Time {
	if len(b) < 16 {
		return time.Time{}
	}
	s := string(b[:16])
	if strings.Trim(s, "0 ") == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102150405", s[:14], time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
