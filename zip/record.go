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

// Package zip mounts a PKZIP central-directory archive as a read-only
// archvfs.FileSystem. Only what the central directory describes is ever
// read; local file headers are consulted solely to locate each entry's
// compressed data, never to re-derive names or sizes.
package zip

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/archvfs/archvfs/codec"
	"github.com/archvfs/archvfs/decompress"
)

const (
	sigEOCD             = 0x06054b50
	sigCentralDirectory = 0x02014b50
	sigLocalFileHeader  = 0x04034b50

	eocdFixedSize = 22
	cdeFixedSize  = 46
	lfhFixedSize  = 30

	maxCommentLength = 0xFFFF

	flagUTF8        = 1 << 11
	gpFlagEncrypted = 1 << 0
	zip64Marker32   = 0xFFFFFFFF
)

// endOfCentralDirectory is the fixed portion of the EOCD record.
type endOfCentralDirectory struct {
	disk               uint16
	centralDirDisk     uint16
	entriesOnDisk      uint16
	entriesTotal       uint16
	centralDirSize     uint32
	centralDirOffset   uint32
}

// parseEOCD decodes the 22-byte fixed part of an EOCD record. buf must start
// at the signature.
func parseEOCD(buf []byte) (endOfCentralDirectory, error) {
	if len(buf) < eocdFixedSize || binary.LittleEndian.Uint32(buf[0:4]) != sigEOCD {
		return endOfCentralDirectory{}, fmt.Errorf("zip: bad end-of-central-directory signature")
	}
	return endOfCentralDirectory{
		disk:             binary.LittleEndian.Uint16(buf[4:6]),
		centralDirDisk:   binary.LittleEndian.Uint16(buf[6:8]),
		entriesOnDisk:    binary.LittleEndian.Uint16(buf[8:10]),
		entriesTotal:     binary.LittleEndian.Uint16(buf[10:12]),
		centralDirSize:   binary.LittleEndian.Uint32(buf[12:16]),
		centralDirOffset: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// centralDirectoryEntry is one parsed record from the central directory.
type centralDirectoryEntry struct {
	generalPurposeFlag uint16
	method             decompress.Method
	modTime            uint16
	modDate            uint16
	crc32              uint32
	compressedSize     uint32
	uncompressedSize   uint32
	diskNumberStart    uint16
	internalAttrs      uint16
	externalAttrs      uint32
	localHeaderOffset  uint32
	name               string
	rawName            []byte
}

// parseCentralDirectoryEntry decodes one record starting at buf[0], returning
// it and the number of bytes it occupies (the fixed part plus the variable
// name/extra/comment fields).
func parseCentralDirectoryEntry(buf []byte) (centralDirectoryEntry, int, error) {
	if len(buf) < cdeFixedSize || binary.LittleEndian.Uint32(buf[0:4]) != sigCentralDirectory {
		return centralDirectoryEntry{}, 0, fmt.Errorf("zip: bad central directory entry signature")
	}

	gpFlag := binary.LittleEndian.Uint16(buf[8:10])
	nameLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:34]))
	total := cdeFixedSize + nameLen + extraLen + commentLen
	if total > len(buf) {
		return centralDirectoryEntry{}, 0, fmt.Errorf("zip: central directory entry overruns buffer")
	}

	rawName := buf[cdeFixedSize : cdeFixedSize+nameLen]
	name := decodeName(rawName, gpFlag)

	e := centralDirectoryEntry{
		generalPurposeFlag: gpFlag,
		method:             decompress.Method(binary.LittleEndian.Uint16(buf[10:12])),
		modTime:            binary.LittleEndian.Uint16(buf[12:14]),
		modDate:            binary.LittleEndian.Uint16(buf[14:16]),
		crc32:              binary.LittleEndian.Uint32(buf[16:20]),
		compressedSize:     binary.LittleEndian.Uint32(buf[20:24]),
		uncompressedSize:   binary.LittleEndian.Uint32(buf[24:28]),
		diskNumberStart:    binary.LittleEndian.Uint16(buf[34:36]),
		internalAttrs:      binary.LittleEndian.Uint16(buf[36:38]),
		externalAttrs:      binary.LittleEndian.Uint32(buf[38:42]),
		localHeaderOffset:  binary.LittleEndian.Uint32(buf[42:46]),
		name:               name,
		rawName:            append([]byte(nil), rawName...),
	}
	return e, total, nil
}

// isZip64 reports whether e relies on a ZIP64 extra field to hold its real
// size or offset, identified by the classic 0xFFFFFFFF sentinel values.
func (e centralDirectoryEntry) isZip64() bool {
	return e.compressedSize == zip64Marker32 || e.uncompressedSize == zip64Marker32 || e.localHeaderOffset == zip64Marker32
}

func (e centralDirectoryEntry) isEncrypted() bool {
	return e.generalPurposeFlag&gpFlagEncrypted != 0
}

func (e centralDirectoryEntry) isDirectory() bool {
	return (len(e.name) > 0 && e.name[len(e.name)-1] == '/') || e.externalAttrs&0x10 != 0
}

// decodeName decodes a name field as UTF-8 when the general-purpose flag's
// language-encoding bit is set, otherwise as legacy CP437, and normalizes
// backslash separators to forward slashes.
func decodeName(raw []byte, gpFlag uint16) string {
	name := codec.DecodeCP437(raw)
	if gpFlag&flagUTF8 != 0 {
		name = string(raw)
	}
	return strings.ReplaceAll(name, "\\", "/")
}

// localFileHeaderDataOffset reads the 30-byte local file header at offset
// and returns the offset its compressed data begins at, accounting for the
// variable-length name and extra fields the central directory doesn't
// duplicate.
func localFileHeaderDataOffset(buf []byte, offset uint64) (uint64, error) {
	if len(buf) < lfhFixedSize || binary.LittleEndian.Uint32(buf[0:4]) != sigLocalFileHeader {
		return 0, fmt.Errorf("zip: bad local file header signature at offset %d", offset)
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	return offset + uint64(lfhFixedSize+nameLen+extraLen), nil
}
