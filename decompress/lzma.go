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

package decompress

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaDecompress decompresses ZIP method 14 entries. Per APPNOTE 4.3.16, the
// entry data is prefixed with a 2-byte LZMA SDK version and a 2-byte
// properties length, followed by that many property bytes (normally 5: one
// lc/lp/pb byte and a 4-byte little-endian dictionary size), then the raw
// LZMA stream with no header of its own. This mirrors the header-synthesis
// trick chd's LZMA codec uses for CHD's headerless hunks: a classic 13-byte
// LZMA header (properties + dict size + uncompressed size) is assembled
// before handing the stream to the library.
func lzmaDecompress(compressed []byte, usz uint64, flags uint16) ([]byte, error) {
	if len(compressed) < 4 {
		return nil, fmt.Errorf("decompress: lzma: entry too short for version/properties header")
	}

	propsLen := int(binary.LittleEndian.Uint16(compressed[2:4]))
	if len(compressed) < 4+propsLen {
		return nil, fmt.Errorf("decompress: lzma: entry shorter than declared properties length %d", propsLen)
	}
	props := compressed[4 : 4+propsLen]
	stream := compressed[4+propsLen:]

	header := make([]byte, 13)
	if len(props) >= 5 {
		header[0] = props[0]
		copy(header[1:5], props[1:5])
	} else if len(props) >= 1 {
		header[0] = props[0]
	}

	const eosMarker = 1 << 1 // general-purpose flag bit 1: unknown size, relies on end-of-stream marker
	if flags&eosMarker != 0 {
		binary.LittleEndian.PutUint64(header[5:13], ^uint64(0))
	} else {
		binary.LittleEndian.PutUint64(header[5:13], usz)
	}

	full := make([]byte, 0, len(header)+len(stream))
	full = append(full, header...)
	full = append(full, stream...)

	r, err := lzma.NewReader(&byteReader{full})
	if err != nil {
		return nil, fmt.Errorf("decompress: lzma: init: %w", err)
	}

	out := make([]byte, 0, usz)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if readErr != nil {
			if readErr == io.EOF { //nolint:errorlint // io.EOF is a sentinel by contract
				return out, nil
			}
			return nil, fmt.Errorf("decompress: lzma: read: %w", readErr)
		}
	}
}
