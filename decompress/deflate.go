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
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateDecompress inflates a raw (headerless) DEFLATE stream, the framing
// ZIP method 8 uses.
func deflateDecompress(compressed []byte, usz uint64, _ uint16) ([]byte, error) {
	zr := flate.NewReader(&byteReader{compressed})
	defer zr.Close() //nolint:errcheck // best effort on a read-only buffer

	out := make([]byte, 0, usz)
	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by contract
				return out, nil
			}
			return nil, fmt.Errorf("decompress: inflate: %w", err)
		}
	}
}

// byteReader adapts a []byte to io.Reader without pulling in bytes.Reader's
// ReadAt/Seek surface the flate.Reader interface does not need.
type byteReader struct {
	b []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
