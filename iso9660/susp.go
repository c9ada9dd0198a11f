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
	"encoding/binary"
	"time"

	"github.com/archvfs/archvfs/archvfs"
	"github.com/archvfs/archvfs/codec"
)

// maxSUSPDepth bounds CE continuation-area following and SL path resolution
// against crafted loops (CE -> CE, or a symlink chain that cycles through a
// directory lookup).
const maxSUSPDepth = 32

// suspEntry is one System Use Sharing Protocol entry: a 2-byte signature, a
// length/version header, and a signature-specific payload.
type suspEntry struct {
	sig     string
	payload []byte
}

// parseSUSPArea walks a System Use field, splicing in CE continuation areas
// as they're encountered, and stops at ST or a header that doesn't fit.
func parseSUSPArea(buf []byte, get getter, depth int) ([]suspEntry, error) {
	var entries []suspEntry
	i := 0
	for i+4 <= len(buf) {
		sig := string(buf[i : i+2])
		length := int(buf[i+2])
		if length < 4 || i+length > len(buf) {
			break
		}
		payload := buf[i+4 : i+length]

		switch sig {
		case "ST":
			return entries, nil
		case "CE":
			if depth < maxSUSPDepth && get != nil && len(payload) >= 20 {
				contLBA := binary.LittleEndian.Uint32(payload[0:4])
				contOffset := binary.LittleEndian.Uint32(payload[8:12])
				contLength := binary.LittleEndian.Uint32(payload[16:20])
				contBuf, err := get(uint64(contLBA)*logicalBlockSize+uint64(contOffset), uint64(contLength))
				if err == nil {
					sub, subErr := parseSUSPArea(contBuf, get, depth+1)
					if subErr == nil {
						entries = append(entries, sub...)
					}
				}
			}
		default:
			entries = append(entries, suspEntry{sig: sig, payload: payload})
		}

		i += length
	}
	return entries, nil
}

func findSUSP(entries []suspEntry, sig string) (suspEntry, bool) {
	for _, e := range entries {
		if e.sig == sig {
			return e, true
		}
	}
	return suspEntry{}, false
}

// rockRidgeActiveRoot inspects the root directory's "." record (the only
// place SP may legally appear) and reports the skip length SUSP entries in
// every other record's system use area must honor, plus whether a Rock
// Ridge extension identifier was actually declared.
func rockRidgeActiveRoot(dotEntries []suspEntry) (active bool, skip int) {
	sp, ok := findSUSP(dotEntries, "SP")
	if !ok || len(sp.payload) < 3 || sp.payload[0] != 0xBE || sp.payload[1] != 0xEF {
		return false, -1
	}
	skip = int(sp.payload[2])

	if _, ok := findSUSP(dotEntries, "RR"); ok {
		return true, skip
	}
	for _, e := range dotEntries {
		if e.sig == "ER" && len(e.payload) >= 4 {
			idLen := int(e.payload[0])
			if 4+idLen <= len(e.payload) && string(e.payload[4:4+idLen]) == "IEEE_P1282" {
				return true, skip
			}
		}
	}
	return false, skip
}

// applyRockRidge interprets this record's SUSP entries: PX (permissions),
// NM (alternate name), SL (symlink target), CL/RE (relocated directory),
// TF (timestamps).
func (r *directoryRecord) applyRockRidge() {
	if px, ok := findSUSP(r.susp, "PX"); ok && len(px.payload) >= 4 {
		r.rrPXMode = binary.LittleEndian.Uint32(px.payload[0:4])
		r.rrPXValid = true
	}

	if name, ok := decodeRockRidgeName(r.susp); ok {
		r.rrName = name
		r.rrNameValid = true
	}

	if target, ok := decodeSymlink(r.susp); ok {
		r.rrSymlink = target
		r.rrIsSymlink = true
	}

	if cl, ok := findSUSP(r.susp, "CL"); ok && len(cl.payload) >= 4 {
		r.rrChildLBA = binary.LittleEndian.Uint32(cl.payload[0:4])
		r.rrRelocated = true
	}

	if _, ok := findSUSP(r.susp, "RE"); ok {
		r.rrIsMarkerRE = true
	}

	if times, ok := decodeTimestamps(r.susp); ok {
		r.rrTimes = times
	}
}

// decodeRockRidgeName concatenates the NM entries' name components, starting
// at the first NM entry and following the CONTINUE flag chain up to the first
// entry without it. A record with no NM entries (or whose chain holds only
// CURRENT/PARENT markers with no literal content) has no Rock Ridge name.
func decodeRockRidgeName(entries []suspEntry) (string, bool) {
	var name string
	found := false
	for _, e := range entries {
		if e.sig != "NM" || len(e.payload) < 1 {
			continue
		}
		found = true
		flags := e.payload[0]
		content := e.payload[1:]
		const nmCurrent = 1 << 1
		const nmParent = 1 << 2
		const nmContinue = 1 << 0
		if flags&(nmCurrent|nmParent) == 0 {
			name += string(content)
		}
		if flags&nmContinue == 0 {
			break
		}
	}
	return name, found && name != ""
}

const (
	slContinue = 1 << 0
	slCurrent  = 1 << 1
	slParent   = 1 << 2
	slRoot     = 1 << 3
)

// decodeSymlink reconstructs the target of an SL entry chain: component
// flags CURRENT/PARENT/ROOT map to "./", "../", and "/" respectively (never
// any host-specific path prefix), and CONTINUE suppresses the trailing
// separator so the next component's content glues directly onto this one.
func decodeSymlink(entries []suspEntry) (string, bool) {
	found := false
	var sb []byte
	for _, e := range entries {
		if e.sig != "SL" || len(e.payload) < 1 {
			continue
		}
		found = true
		i := 1 // payload[0] is the SL entry's own continue flag, unrelated to per-component flags
		for i+2 <= len(e.payload) {
			compFlags := e.payload[i]
			compLen := int(e.payload[i+1])
			i += 2
			if i+compLen > len(e.payload) {
				break
			}
			content := e.payload[i : i+compLen]
			i += compLen

			switch {
			case compFlags&slCurrent != 0:
				sb = append(sb, '.')
			case compFlags&slParent != 0:
				sb = append(sb, '.', '.')
			case compFlags&slRoot != 0:
				sb = append(sb, '/')
			default:
				sb = append(sb, content...)
			}
			if compFlags&slContinue == 0 {
				sb = append(sb, '/')
			}
		}
	}
	if !found {
		return "", false
	}
	s := string(sb)
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s, true
}

// timestamp kinds for the bit flags in a TF entry, in the order they appear.
const (
	tfCreation   = 1 << 0
	tfModify     = 1 << 1
	tfAccess     = 1 << 2
	tfAttributes = 1 << 3
	tfBackup     = 1 << 4
	tfExpiration = 1 << 5
	tfEffective  = 1 << 6
	tfLongForm   = 1 << 7
)

// decodeTimestamps decodes a TF entry's timestamps into a map keyed by the
// kind bit (tfCreation, tfModify, ...), honoring the long-form flag that
// switches each field from the 7-byte short form to the 17-byte ASCII form.
func decodeTimestamps(entries []suspEntry) (map[byte]time.Time, bool) {
	tf, ok := findSUSP(entries, "TF")
	if !ok || len(tf.payload) < 1 {
		return nil, false
	}
	flags := tf.payload[0]
	longForm := flags&tfLongForm != 0
	fieldSize := 7
	if longForm {
		fieldSize = 17
	}

	times := make(map[byte]time.Time)
	offset := 1
	for _, kind := range []byte{tfCreation, tfModify, tfAccess, tfAttributes, tfBackup, tfExpiration, tfEffective} {
		if flags&kind == 0 {
			continue
		}
		if offset+fieldSize > len(tf.payload) {
			break
		}
		field := tf.payload[offset : offset+fieldSize]
		if longForm {
			times[kind] = codec.LongFormDate(field)
		} else {
			times[kind] = codec.RecordingDate(field)
		}
		offset += fieldSize
	}
	return times, len(times) > 0
}

// posixModeBits translates a PX POSIX mode field's S_IFMT file-type bits
// into the corresponding archvfs mode bits. Permission bits are applied by
// the caller, since every archive entry is read-only regardless of what PX
// records.
func posixModeBits(pxMode uint32) uint32 {
	const (
		sIFMT  = 0170000
		sIFDIR = 0040000
		sIFLNK = 0120000
	)
	switch pxMode & sIFMT {
	case sIFDIR:
		return archvfs.ModeDir
	case sIFLNK:
		return archvfs.ModeSymlink
	default:
		return 0
	}
}
