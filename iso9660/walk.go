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

package iso9660

import (
	"fmt"

	"github.com/archvfs/archvfs/archvfs"
)

// readDirectory enumerates the immediate children of a directory extent,
// skipping ".", "..", and the original-location markers (RE) of relocated
// directories. Sector padding (a zero length byte before the next record)
// is skipped to the next logical-block boundary rather than byte by byte,
// since records never span sector boundaries. Names are stored under their
// case-folded form so lookups and directory listings agree with whatever
// fold the mount was opened with.
func readDirectory(get getter, joliet bool, rrActive bool, rrSkip int, lba, dataLength uint32, caseFold archvfs.CaseFold) (map[string]*directoryRecord, error) {
	buf, err := get(uint64(lba)*logicalBlockSize, uint64(dataLength))
	if err != nil {
		return nil, fmt.Errorf("iso9660: read directory extent: %w", err)
	}

	children := make(map[string]*directoryRecord)
	i := 0
	for i < len(buf) {
		if buf[i] == 0 {
			next := ((i / logicalBlockSize) + 1) * logicalBlockSize
			if next <= i || next >= len(buf) {
				break
			}
			i = next
			continue
		}

		rec, consumed, err := parseDirectoryRecord(buf[i:], joliet, rrSkip, get, 0)
		if err != nil {
			return nil, err
		}
		if consumed == 0 {
			break
		}

		if !rec.isDot && !rec.isDotDot && !(rrActive && rec.rrIsMarkerRE) {
			name := caseFold.Fold(rec.FileName())
			if _, exists := children[name]; !exists {
				children[name] = rec
			}
		}
		i += consumed
	}

	return children, nil
}

// resolveRelocatedDirectory follows a Rock Ridge CL entry to the real
// location of a relocated directory by reading its own "." record, whose
// lba/dataLength describe the extent itself.
func resolveRelocatedDirectory(get getter, joliet bool, rrSkip int, childLBA uint32) (*directoryRecord, error) {
	dotBuf, err := get(uint64(childLBA)*logicalBlockSize, 64)
	if err != nil {
		return nil, fmt.Errorf("iso9660: read relocated directory: %w", err)
	}
	dotRec, _, err := parseDirectoryRecord(dotBuf, joliet, rrSkip, get, 0)
	if err != nil {
		return nil, fmt.Errorf("iso9660: parse relocated directory: %w", err)
	}
	return dotRec, nil
}
