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

// Package iso9660 mounts an ISO 9660 disc image (with optional Joliet and
// Rock Ridge extensions) as a read-only archvfs.FileSystem, decoding
// directory records directly rather than walking the path table.
package iso9660

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/archvfs/archvfs/codec"
)

const (
	logicalBlockSize = 2048

	flagDirectory  = 0x02
	flagAssociated = 0x04
)

// getter fetches exactly length bytes at offset from the mounted byte
// source. Every parsing function threads one through so continuation areas
// (SUSP CE entries, relocated directories) can be followed on demand.
type getter func(offset, length uint64) ([]byte, error)

// directoryRecord is a parsed ISO 9660 directory record, optionally carrying
// Rock Ridge attributes recovered from its SUSP area.
type directoryRecord struct {
	lba           uint32
	dataLength    uint32
	flags         byte
	identifier    string
	rawIdentifier []byte
	recordingDate time.Time
	isDot         bool
	isDotDot      bool

	susp []suspEntry

	// Rock Ridge derived fields, valid only when their rr* bool is set.
	rrName       string
	rrNameValid  bool
	rrPXMode     uint32
	rrPXValid    bool
	rrSymlink    string
	rrIsSymlink  bool
	rrChildLBA   uint32
	rrRelocated  bool
	rrIsMarkerRE bool
	rrTimes      map[byte]time.Time
}

// parseDirectoryRecord parses a single directory record starting at buf[0].
// It returns the record and the number of bytes it occupies (buf[0]).
func parseDirectoryRecord(buf []byte, joliet bool, rrSkip int, get getter, depth int) (*directoryRecord, int, error) {
	if len(buf) == 0 {
		return nil, 0, fmt.Errorf("iso9660: empty directory record buffer")
	}
	length := int(buf[0])
	if length == 0 {
		return nil, 0, nil
	}
	if length < 33 || length > len(buf) {
		return nil, 0, fmt.Errorf("iso9660: directory record length %d out of range", length)
	}

	rec := &directoryRecord{
		lba:           binary.LittleEndian.Uint32(buf[2:6]),
		dataLength:    binary.LittleEndian.Uint32(buf[10:14]),
		recordingDate: codec.RecordingDate(buf[18:25]),
		flags:         buf[25],
	}

	idLen := int(buf[32])
	idStart := 33
	if idStart+idLen > length {
		return nil, 0, fmt.Errorf("iso9660: directory record identifier overruns record")
	}
	rec.rawIdentifier = buf[idStart : idStart+idLen]

	switch {
	case idLen == 1 && rec.rawIdentifier[0] == 0x00:
		rec.isDot = true
		rec.identifier = "."
	case idLen == 1 && rec.rawIdentifier[0] == 0x01:
		rec.isDotDot = true
		rec.identifier = ".."
	case joliet:
		rec.identifier = codec.DecodeUTF16BE(rec.rawIdentifier)
	default:
		rec.identifier = string(rec.rawIdentifier)
	}

	suspStart := idStart + idLen
	if idLen%2 == 0 {
		suspStart++ // padding byte keeps the system use area on an even boundary
	}
	if suspStart < length {
		suspBuf := buf[suspStart:length]
		if rrSkip > 0 && rrSkip <= len(suspBuf) {
			suspBuf = suspBuf[rrSkip:]
		}
		entries, err := parseSUSPArea(suspBuf, get, depth)
		if err != nil {
			return nil, 0, fmt.Errorf("iso9660: parse SUSP area: %w", err)
		}
		rec.susp = entries
		rec.applyRockRidge()
	}

	return rec, length, nil
}

// baseName returns the identifier with the ";version" suffix (and a
// preceding lone dot) stripped, per ECMA-119 8.5.2.2. Directories and
// records with no version separator are returned unchanged.
func (r *directoryRecord) baseName() string {
	if r.IsDirectory() {
		return r.identifier
	}
	sep := -1
	for i := len(r.identifier) - 1; i >= 0; i-- {
		if r.identifier[i] == ';' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return r.identifier
	}
	if sep > 0 && r.identifier[sep-1] == '.' {
		return r.identifier[:sep-1]
	}
	return r.identifier[:sep]
}

// FileName returns the name this record should be listed under: the Rock
// Ridge alternate name when one is present, otherwise the ECMA-119 base name.
func (r *directoryRecord) FileName() string {
	if r.rrNameValid && r.rrName != "" {
		return r.rrName
	}
	return r.baseName()
}

// IsDirectory reports whether this record names a directory, including one
// reached only through a Rock Ridge CL relocation.
func (r *directoryRecord) IsDirectory() bool {
	return r.flags&flagDirectory != 0 || r.rrRelocated
}

// IsSymlink reports whether Rock Ridge marks this record as a symbolic link.
func (r *directoryRecord) IsSymlink() bool {
	return r.rrIsSymlink
}
