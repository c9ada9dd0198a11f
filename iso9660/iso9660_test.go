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
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/archvfs/archvfs/archvfs"
	"github.com/archvfs/archvfs/bytesource"
)

// recordBuilder accumulates the bytes of a single directory record, mirroring
// the layout parseDirectoryRecord in record.go expects.
type recordBuilder struct {
	identifier []byte
	lba        uint32
	dataLength uint32
	isDir      bool
	date       time.Time
	susp       []byte
}

func (rb recordBuilder) build() []byte {
	idLen := len(rb.identifier)
	suspStart := 33 + idLen
	pad := 0
	if idLen%2 == 0 {
		pad = 1
	}
	total := suspStart + pad + len(rb.susp)

	buf := make([]byte, total)
	buf[0] = byte(total)
	binary.LittleEndian.PutUint32(buf[2:6], rb.lba)
	binary.BigEndian.PutUint32(buf[6:10], rb.lba)
	binary.LittleEndian.PutUint32(buf[10:14], rb.dataLength)
	binary.BigEndian.PutUint32(buf[14:18], rb.dataLength)

	buf[18] = byte(rb.date.Year() - 1900)
	buf[19] = byte(rb.date.Month())
	buf[20] = byte(rb.date.Day())
	buf[21] = byte(rb.date.Hour())
	buf[22] = byte(rb.date.Minute())
	buf[23] = byte(rb.date.Second())
	buf[24] = 0

	if rb.isDir {
		buf[25] = flagDirectory
	}
	buf[32] = byte(idLen)
	copy(buf[33:33+idLen], rb.identifier)
	copy(buf[suspStart+pad:], rb.susp)
	return buf
}

// buildExtent lays out a sequence of directory records into one or more
// logicalBlockSize sectors, zero-padding any record that would otherwise
// straddle a sector boundary, and returns the bytes plus the LBA the extent
// starts at (the caller chooses it; buildExtent only knows the size).
func buildExtent(records ...[]byte) []byte {
	var sectors [][]byte
	cur := make([]byte, 0, logicalBlockSize)
	for _, rec := range records {
		if len(cur)+len(rec) > logicalBlockSize {
			cur = append(cur, make([]byte, logicalBlockSize-len(cur))...)
			sectors = append(sectors, cur)
			cur = make([]byte, 0, logicalBlockSize)
		}
		cur = append(cur, rec...)
	}
	cur = append(cur, make([]byte, logicalBlockSize-len(cur))...)
	sectors = append(sectors, cur)

	out := make([]byte, 0, len(sectors)*logicalBlockSize)
	for _, s := range sectors {
		out = append(out, s...)
	}
	return out
}

// isoImage is a growable byte buffer addressed by sector, used to assemble a
// complete synthetic disc image for Mount to read.
type isoImage struct {
	buf []byte
}

func (img *isoImage) putSector(lba uint32, data []byte) {
	end := int(lba)*logicalBlockSize + len(data)
	if end > len(img.buf) {
		img.buf = append(img.buf, make([]byte, end-len(img.buf))...)
	}
	copy(img.buf[int(lba)*logicalBlockSize:], data)
}

func primaryVolumeDescriptor(rootRecord []byte) []byte {
	buf := make([]byte, logicalBlockSize)
	buf[0] = descriptorTypePrimary
	copy(buf[1:6], "CD001")
	buf[6] = 1
	copy(buf[156:190], rootRecord)
	return buf
}

func terminatorDescriptor() []byte {
	buf := make([]byte, logicalBlockSize)
	buf[0] = descriptorTypeTerminator
	copy(buf[1:6], "CD001")
	return buf
}

// buildBasicImage assembles a volume with root/{ONE.TXT, TWO.TXT, NESTED/}
// and NESTED/{OMG.TXT}, following the classic sector plan: PVD at 16,
// terminator at 17, root extent at 18, nested extent at 19, file data at
// 20, 21, 22.
func buildBasicImage(t *testing.T) *isoImage {
	t.Helper()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	oneData := []byte("one\n")
	twoData := []byte("two, a little longer than one\n")
	omgData := []byte("nested omg\n")

	nestedExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 19, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("OMG.TXT;1"), lba: 22, dataLength: uint32(len(omgData)), date: when}.build(),
	)

	rootExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("ONE.TXT;1"), lba: 20, dataLength: uint32(len(oneData)), date: when}.build(),
		recordBuilder{identifier: []byte("TWO.TXT;1"), lba: 21, dataLength: uint32(len(twoData)), date: when}.build(),
		recordBuilder{identifier: []byte("NESTED"), lba: 19, dataLength: uint32(len(nestedExtent)), isDir: true, date: when}.build(),
	)

	rootRecord := recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: uint32(len(rootExtent)), isDir: true, date: when}.build()

	img := &isoImage{}
	img.putSector(16, primaryVolumeDescriptor(rootRecord))
	img.putSector(17, terminatorDescriptor())
	img.putSector(18, rootExtent)
	img.putSector(19, nestedExtent)
	img.putSector(20, append(oneData, make([]byte, logicalBlockSize-len(oneData))...))
	img.putSector(21, append(twoData, make([]byte, logicalBlockSize-len(twoData))...))
	img.putSector(22, append(omgData, make([]byte, logicalBlockSize-len(omgData))...))
	return img
}

func mustMount(t *testing.T, img *isoImage, opts Options) *FileSystem {
	t.Helper()
	opts.Source = bytesource.NewMemSource(img.buf)
	fs, err := Mount(context.Background(), opts)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func readAll(t *testing.T, fs *FileSystem, path string, size int64) []byte {
	t.Helper()
	dst := make([]byte, size)
	n, err := fs.ReadSync(path, dst, 0, size)
	if err != nil {
		t.Fatalf("ReadSync(%s): %v", path, err)
	}
	return dst[:n]
}

func TestMountBasicLayout(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{Name: "basic"})

	names, err := fs.ReaddirSync("/")
	if err != nil {
		t.Fatalf("ReaddirSync(/): %v", err)
	}
	want := map[string]bool{"one.txt": true, "two.txt": true, "nested": true}
	if len(names) != len(want) {
		t.Fatalf("ReaddirSync(/) = %v, want entries for %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected entry %q", n)
		}
	}

	inode, err := fs.StatSync("/one.txt")
	if err != nil {
		t.Fatalf("StatSync(/one.txt): %v", err)
	}
	if inode.IsDir() {
		t.Error("/one.txt should not be a directory")
	}
	if inode.Size != int64(len("one\n")) {
		t.Errorf("size = %d, want %d", inode.Size, len("one\n"))
	}

	dirInode, err := fs.StatSync("/nested")
	if err != nil {
		t.Fatalf("StatSync(/nested): %v", err)
	}
	if !dirInode.IsDir() {
		t.Error("/nested should be a directory")
	}

	got := readAll(t, fs, "/one.txt", 4)
	if !bytes.Equal(got, []byte("one\n")) {
		t.Errorf("read /one.txt = %q, want %q", got, "one\n")
	}

	got = readAll(t, fs, "/nested/omg.txt", int64(len("nested omg\n")))
	if !bytes.Equal(got, []byte("nested omg\n")) {
		t.Errorf("read /nested/omg.txt = %q, want %q", got, "nested omg\n")
	}
}

func TestMountCaseFoldUpper(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{Name: "upper", CaseFold: archvfs.CaseFoldUpper})

	if _, err := fs.StatSync("/ONE.TXT"); err != nil {
		t.Fatalf("StatSync(/ONE.TXT) under CaseFoldUpper: %v", err)
	}
	if _, err := fs.StatSync("/one.txt"); err != nil {
		t.Errorf("StatSync(/one.txt) under CaseFoldUpper: %v", err)
	}
}

func TestMountCaseFoldNone(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{Name: "none", CaseFold: archvfs.CaseFoldNone})

	if _, err := fs.StatSync("/ONE.TXT"); err != nil {
		t.Fatalf("StatSync(/ONE.TXT) under CaseFoldNone: %v", err)
	}
	if _, err := fs.StatSync("/one.txt"); err == nil {
		t.Error("StatSync(/one.txt) should fail under CaseFoldNone since identifiers are stored uppercase")
	}
}

func TestReadRangeOutOfBounds(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{})

	dst := make([]byte, 100)
	if _, err := fs.ReadSync("/one.txt", dst, 0, 100); err == nil {
		t.Error("expected error reading past end of file")
	}
}

func TestStatNoSuchFile(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{})

	if _, err := fs.StatSync("/missing.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaddirNotADirectory(t *testing.T) {
	img := buildBasicImage(t)
	fs := mustMount(t, img, Options{})

	if _, err := fs.ReaddirSync("/one.txt"); err == nil {
		t.Error("expected ReaddirSync on a regular file to fail")
	}
}

// buildRockRidgeImage assembles a one-file root directory whose entry carries
// a Rock Ridge NM (alternate name) and PX (permissions) entry, plus an SP
// entry on "." activating Rock Ridge for the whole volume.
func buildRockRidgeImage(t *testing.T) *isoImage {
	t.Helper()
	when := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	data := []byte("payload\n")

	spEntry := suspBytes("SP", []byte{0xBE, 0xEF, 0x00})
	rrEntry := suspBytes("RR", []byte{0x00})
	dotSUSP := append(append([]byte{}, spEntry...), rrEntry...)

	nmEntry := suspBytes("NM", append([]byte{0x00}, []byte("longer-name.dat")...))
	pxEntry := suspBytes("PX", leUint32Bytes(0o100555))
	fileSUSP := append(append([]byte{}, nmEntry...), pxEntry...)

	rootExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when, susp: dotSUSP}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("A.DAT;1"), lba: 19, dataLength: uint32(len(data)), date: when, susp: fileSUSP}.build(),
	)
	// The PVD-embedded root record is a fixed 34 bytes per ECMA-119 and
	// cannot carry the SUSP area; Rock Ridge is detected from the root
	// extent's own "." record (the first entry above) instead.
	pvdRootRecord := recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: uint32(len(rootExtent)), isDir: true, date: when}.build()

	img := &isoImage{}
	img.putSector(16, primaryVolumeDescriptor(pvdRootRecord))
	img.putSector(17, terminatorDescriptor())
	img.putSector(18, rootExtent)
	img.putSector(19, append(data, make([]byte, logicalBlockSize-len(data))...))
	return img
}

func suspBytes(sig string, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	copy(b[0:2], sig)
	b[2] = byte(4 + len(payload))
	b[3] = 1
	copy(b[4:], payload)
	return b
}

func leUint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestMountRockRidgeNameAndPermissions(t *testing.T) {
	img := buildRockRidgeImage(t)
	fs := mustMount(t, img, Options{})

	if !fs.rockRidge {
		t.Fatal("expected Rock Ridge to be detected active")
	}

	inode, err := fs.StatSync("/longer-name.dat")
	if err != nil {
		t.Fatalf("StatSync(/longer-name.dat): %v", err)
	}
	if inode.IsDir() {
		t.Error("/longer-name.dat should not be a directory")
	}

	got := readAll(t, fs, "/longer-name.dat", int64(len("payload\n")))
	if !bytes.Equal(got, []byte("payload\n")) {
		t.Errorf("read /longer-name.dat = %q, want %q", got, "payload\n")
	}

	if _, err := fs.StatSync("/a.dat"); err == nil {
		t.Error("the plain ECMA-119 identifier should be shadowed by the Rock Ridge name")
	}
}

// buildRockRidgeSymlinkImage assembles a root directory holding a regular
// file and a symlink entry whose SL payload is a single literal component
// naming that file.
func buildRockRidgeSymlinkImage(t *testing.T) *isoImage {
	t.Helper()
	when := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	data := []byte("symlink target contents\n")
	targetName := "target.dat"

	spEntry := suspBytes("SP", []byte{0xBE, 0xEF, 0x00})
	rrEntry := suspBytes("RR", []byte{0x00})
	dotSUSP := append(append([]byte{}, spEntry...), rrEntry...)

	slPayload := append([]byte{0x00, 0x00, byte(len(targetName))}, []byte(targetName)...)
	slEntry := suspBytes("SL", slPayload)

	rootExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when, susp: dotSUSP}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("TARGET.DAT;1"), lba: 19, dataLength: uint32(len(data)), date: when}.build(),
		recordBuilder{identifier: []byte("LINK.;1"), lba: 18, dataLength: 0, date: when, susp: slEntry}.build(),
	)
	pvdRootRecord := recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: uint32(len(rootExtent)), isDir: true, date: when}.build()

	img := &isoImage{}
	img.putSector(16, primaryVolumeDescriptor(pvdRootRecord))
	img.putSector(17, terminatorDescriptor())
	img.putSector(18, rootExtent)
	img.putSector(19, append(data, make([]byte, logicalBlockSize-len(data))...))
	return img
}

func TestMountRockRidgeSymlink(t *testing.T) {
	img := buildRockRidgeSymlinkImage(t)
	fs := mustMount(t, img, Options{})

	if !fs.rockRidge {
		t.Fatal("expected Rock Ridge to be detected active")
	}

	inode, err := fs.StatSync("/link")
	if err != nil {
		t.Fatalf("StatSync(/link): %v", err)
	}
	if inode.IsDir() {
		t.Error("/link should resolve through to a regular file, not a directory")
	}

	want := []byte("symlink target contents\n")
	got := readAll(t, fs, "/link", int64(len(want)))
	if !bytes.Equal(got, want) {
		t.Errorf("read /link = %q, want %q", got, want)
	}
}

// buildRockRidgeRelocatedImage assembles a three-extent layout exercising
// Rock Ridge directory relocation: the root holds a CL stub for "deep" and
// an "rr_moved" directory whose own "deep" entry carries the RE marker, and
// the real "deep" extent (reached only via the CL pointer) holds the actual
// contents.
func buildRockRidgeRelocatedImage(t *testing.T) *isoImage {
	t.Helper()
	when := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	fileData := []byte("deep file contents\n")

	spEntry := suspBytes("SP", []byte{0xBE, 0xEF, 0x00})
	rrEntry := suspBytes("RR", []byte{0x00})
	dotSUSP := append(append([]byte{}, spEntry...), rrEntry...)

	clEntry := suspBytes("CL", leUint32Bytes(20))
	reEntry := suspBytes("RE", []byte{})

	deepExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 20, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 19, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("FILE.TXT;1"), lba: 21, dataLength: uint32(len(fileData)), date: when}.build(),
	)

	rrMovedExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 19, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("DEEP.;1"), lba: 20, dataLength: logicalBlockSize, isDir: true, date: when, susp: reEntry}.build(),
	)

	rootExtent := buildExtent(
		recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when, susp: dotSUSP}.build(),
		recordBuilder{identifier: []byte{0x01}, lba: 18, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
		recordBuilder{identifier: []byte("DEEP"), lba: 18, dataLength: 0, date: when, susp: clEntry}.build(),
		recordBuilder{identifier: []byte("RR_MOVED"), lba: 19, dataLength: logicalBlockSize, isDir: true, date: when}.build(),
	)
	pvdRootRecord := recordBuilder{identifier: []byte{0x00}, lba: 18, dataLength: uint32(len(rootExtent)), isDir: true, date: when}.build()

	img := &isoImage{}
	img.putSector(16, primaryVolumeDescriptor(pvdRootRecord))
	img.putSector(17, terminatorDescriptor())
	img.putSector(18, rootExtent)
	img.putSector(19, rrMovedExtent)
	img.putSector(20, deepExtent)
	img.putSector(21, append(fileData, make([]byte, logicalBlockSize-len(fileData))...))
	return img
}

func TestMountRockRidgeRelocatedDirectory(t *testing.T) {
	img := buildRockRidgeRelocatedImage(t)
	fs := mustMount(t, img, Options{})

	if !fs.rockRidge {
		t.Fatal("expected Rock Ridge to be detected active")
	}

	inode, err := fs.StatSync("/deep")
	if err != nil {
		t.Fatalf("StatSync(/deep): %v", err)
	}
	if !inode.IsDir() {
		t.Error("/deep should report as a directory despite its CL stub not carrying the ECMA directory flag")
	}

	names, err := fs.ReaddirSync("/deep")
	if err != nil {
		t.Fatalf("ReaddirSync(/deep): %v", err)
	}
	if len(names) != 1 || names[0] != "file.txt" {
		t.Errorf("ReaddirSync(/deep) = %v, want [file.txt]", names)
	}

	got := readAll(t, fs, "/deep/file.txt", int64(len("deep file contents\n")))
	if !bytes.Equal(got, []byte("deep file contents\n")) {
		t.Errorf("read /deep/file.txt = %q, want %q", got, "deep file contents\n")
	}

	movedNames, err := fs.ReaddirSync("/rr_moved")
	if err != nil {
		t.Fatalf("ReaddirSync(/rr_moved): %v", err)
	}
	if len(movedNames) != 0 {
		t.Errorf("ReaddirSync(/rr_moved) = %v, want the RE-marked original-location entry skipped", movedNames)
	}
}
