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
	"compress/bzip2"
	"fmt"
	"io"
)

// bzip2Decompress decompresses ZIP method 12 entries. No third-party bzip2
// decoder appears anywhere in the reference pack, so this falls back to the
// standard library the same way other archive tooling in the pack does.
func bzip2Decompress(compressed []byte, usz uint64, _ uint16) ([]byte, error) {
	r := bzip2.NewReader(&byteReader{compressed})

	out := make([]byte, 0, usz)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by contract
				return out, nil
			}
			return nil, fmt.Errorf("decompress: bzip2: %w", err)
		}
	}
}
