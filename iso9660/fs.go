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
	"fmt"
	"strings"

	"github.com/archvfs/archvfs/archvfs"
	"github.com/archvfs/archvfs/bytesource"
)

const (
	descriptorTypePrimary      = 1
	descriptorTypeSupplementary = 2
	descriptorTypeTerminator    = 255
)

// Options configures a Mount call.
type Options struct {
	Source   bytesource.ByteSource
	Name     string
	CaseFold archvfs.CaseFold // defaults to archvfs.CaseFoldLower when unset
}

// FileSystem is a mounted, read-only ISO 9660 image.
type FileSystem struct {
	src        bytesource.ByteSource
	name       string
	caseFold   archvfs.CaseFold
	joliet     bool
	rockRidge  bool
	rrSkip     int
	rootRecord *directoryRecord
}

var _ archvfs.FileSystem = (*FileSystem)(nil)

// Mount reads the volume descriptor sequence, selects Joliet over plain
// ISO 9660 when a valid escape sequence is present, and establishes whether
// Rock Ridge is active by inspecting the root directory's own SUSP area.
func Mount(ctx context.Context, opts Options) (*FileSystem, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("iso9660: mount: %w: nil byte source", archvfs.ErrInvalidArgument)
	}
	get := asyncGetter(ctx, opts.Source)

	var primary, supplementary []byte
	for sector := uint64(16); ; sector++ {
		buf, err := get(sector*logicalBlockSize, logicalBlockSize)
		if err != nil {
			return nil, fmt.Errorf("iso9660: mount: read volume descriptor: %w", err)
		}
		if !bytes.Equal(buf[1:6], []byte("CD001")) {
			return nil, fmt.Errorf("iso9660: mount: %w: bad volume descriptor signature at sector %d",
				archvfs.ErrIOError, sector)
		}

		switch buf[0] {
		case descriptorTypePrimary:
			if primary == nil {
				primary = append([]byte(nil), buf...)
			}
		case descriptorTypeSupplementary:
			if isJolietEscape(buf[88:91]) {
				supplementary = append([]byte(nil), buf...)
			}
		case descriptorTypeTerminator:
			goto selected
		}
	}

selected:
	descriptor := primary
	joliet := false
	if supplementary != nil {
		descriptor = supplementary
		joliet = true
	}
	if descriptor == nil {
		return nil, fmt.Errorf("iso9660: mount: %w: no usable volume descriptor found", archvfs.ErrIOError)
	}

	// The PVD's own root directory record field is a fixed 34 bytes per
	// ECMA-119 and has no room for a SUSP area, so it only ever serves to
	// locate the root extent. The SP/RR/PX/NM/TF entries Rock Ridge needs
	// live on the root extent's own "." record, read separately below.
	pvdRootRecord, _, err := parseDirectoryRecord(descriptor[156:190], joliet, 0, get, 0)
	if err != nil {
		return nil, fmt.Errorf("iso9660: mount: parse root directory record: %w", err)
	}

	dotBuf, err := get(uint64(pvdRootRecord.lba)*logicalBlockSize, 255)
	if err != nil {
		return nil, fmt.Errorf("iso9660: mount: read root directory record: %w", err)
	}
	rootRecord, _, err := parseDirectoryRecord(dotBuf, joliet, 0, get, 0)
	if err != nil {
		return nil, fmt.Errorf("iso9660: mount: parse root directory record: %w", err)
	}

	rockRidge, rrSkip := rockRidgeActiveRoot(rootRecord.susp)
	if rockRidge {
		// Re-parse with the real skip length now known, so PX/NM/SL/TF on
		// the root record itself are interpreted correctly too.
		rootRecord, _, err = parseDirectoryRecord(dotBuf, joliet, rrSkip, get, 0)
		if err != nil {
			return nil, fmt.Errorf("iso9660: mount: reparse root directory record: %w", err)
		}
	}

	return &FileSystem{
		src:        opts.Source,
		name:       opts.Name,
		caseFold:   opts.CaseFold,
		joliet:     joliet,
		rockRidge:  rockRidge,
		rrSkip:     rrSkip,
		rootRecord: rootRecord,
	}, nil
}

// isJolietEscape reports whether b holds a valid Joliet UCS-2 level escape
// sequence. Decoder selection always goes through this check on the
// descriptor type, never through any descriptor-supplied name string.
func isJolietEscape(b []byte) bool {
	if len(b) < 3 || b[0] != 0x25 || b[1] != 0x2F {
		return false
	}
	return b[2] == 0x40 || b[2] == 0x43 || b[2] == 0x45
}

func asyncGetter(ctx context.Context, src bytesource.ByteSource) getter {
	return func(offset, length uint64) ([]byte, error) {
		return src.Get(ctx, offset, length)
	}
}

func syncGetter(src bytesource.ByteSource) getter {
	return func(offset, length uint64) ([]byte, error) {
		b, err := src.GetSync(offset, length)
		if err != nil {
			if err == bytesource.ErrNotReady { //nolint:errorlint // sentinel comparison
				return nil, archvfs.ErrTryAgain
			}
			return nil, err
		}
		return b, nil
	}
}

// Usage reports the archive's addressable byte range; ISO images are
// read-only, so free space is always zero.
func (fs *FileSystem) Usage() archvfs.Usage {
	return archvfs.Usage{TotalSpace: fs.src.Size()}
}

func (fs *FileSystem) StatSync(path string) (archvfs.Inode, error) {
	return fs.stat(syncGetter(fs.src), path)
}

func (fs *FileSystem) Stat(ctx context.Context, path string) (archvfs.Inode, error) {
	return fs.stat(asyncGetter(ctx, fs.src), path)
}

func (fs *FileSystem) ReaddirSync(path string) ([]string, error) {
	return fs.readdir(syncGetter(fs.src), path)
}

func (fs *FileSystem) Readdir(ctx context.Context, path string) ([]string, error) {
	return fs.readdir(asyncGetter(ctx, fs.src), path)
}

func (fs *FileSystem) ReadSync(path string, dst []byte, offset, end int64) (int, error) {
	return fs.read(syncGetter(fs.src), path, dst, offset, end)
}

func (fs *FileSystem) Read(ctx context.Context, path string, dst []byte, offset, end int64) (int, error) {
	return fs.read(asyncGetter(ctx, fs.src), path, dst, offset, end)
}

func (fs *FileSystem) stat(get getter, path string) (archvfs.Inode, error) {
	rec, err := fs.resolve(get, path)
	if err != nil {
		return archvfs.Inode{}, err
	}
	return fs.inodeFor(get, rec)
}

func (fs *FileSystem) readdir(get getter, path string) ([]string, error) {
	rec, err := fs.resolve(get, path)
	if err != nil {
		return nil, err
	}
	if !rec.IsDirectory() {
		return nil, fmt.Errorf("iso9660: readdir %s: %w", path, archvfs.ErrNotADirectory)
	}
	children, err := fs.children(get, rec)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	return names, nil
}

func (fs *FileSystem) read(get getter, path string, dst []byte, offset, end int64) (int, error) {
	rec, err := fs.resolve(get, path)
	if err != nil {
		return 0, err
	}
	if rec.IsDirectory() {
		return 0, fmt.Errorf("iso9660: read %s: %w", path, archvfs.ErrIsADirectory)
	}
	if offset < 0 || end < offset || uint64(end) > uint64(rec.dataLength) { //nolint:gosec // bounds validated
		return 0, fmt.Errorf("iso9660: read %s: %w: range [%d,%d) outside size %d",
			path, archvfs.ErrInvalidArgument, offset, end, rec.dataLength)
	}
	n := end - offset
	if n == 0 {
		return 0, nil
	}
	data, err := get(uint64(rec.lba)*logicalBlockSize+uint64(offset), uint64(n)) //nolint:gosec // bounds validated
	if err != nil {
		return 0, fmt.Errorf("iso9660: read %s: %w", path, err)
	}
	return copy(dst, data), nil
}

// inodeFor builds the Inode for a resolved record, applying the PX
// permission/type override and TF timestamps when Rock Ridge supplied them.
func (fs *FileSystem) inodeFor(get getter, rec *directoryRecord) (archvfs.Inode, error) {
	var mode uint32 = archvfs.ModePermission
	if rec.IsDirectory() {
		mode |= archvfs.ModeDir
	}
	size := int64(rec.dataLength)

	if rec.rrPXValid {
		mode = (rec.rrPXMode & archvfs.ModePermission) | posixModeBits(rec.rrPXMode)
	}

	if rec.rrRelocated && !rec.isDot {
		relocated, err := resolveRelocatedDirectory(get, fs.joliet, fs.rrSkip, rec.rrChildLBA)
		if err == nil {
			size = int64(relocated.dataLength)
		}
	}

	t := rec.recordingDate
	times := archvfs.Inode{
		Mode:    mode,
		Size:    size,
		AtimeMs: t.UnixMilli(),
		MtimeMs: t.UnixMilli(),
		CtimeMs: t.UnixMilli(),
	}
	if rec.rrTimes != nil {
		if mt, ok := rec.rrTimes[tfModify]; ok {
			times.MtimeMs = mt.UnixMilli()
		}
		if at, ok := rec.rrTimes[tfAccess]; ok {
			times.AtimeMs = at.UnixMilli()
		}
		if ct, ok := rec.rrTimes[tfAttributes]; ok {
			times.CtimeMs = ct.UnixMilli()
		}
		if bt, ok := rec.rrTimes[tfCreation]; ok {
			times.BirthtimeMs = bt.UnixMilli()
		}
	}
	return times, nil
}

// children returns the directory map for rec, following a Rock Ridge CL
// relocation first if rec is a relocated-directory stub.
func (fs *FileSystem) children(get getter, rec *directoryRecord) (map[string]*directoryRecord, error) {
	target := rec
	if rec.rrRelocated {
		relocated, err := resolveRelocatedDirectory(get, fs.joliet, fs.rrSkip, rec.rrChildLBA)
		if err != nil {
			return nil, err
		}
		target = relocated
	}
	return readDirectory(get, fs.joliet, fs.rockRidge, fs.rrSkip, target.lba, target.dataLength, fs.caseFold)
}

// resolve walks path from the root, applying case fold, and follows Rock
// Ridge symlinks (bounded to maxSUSPDepth hops) until it lands on a
// non-symlink record.
func (fs *FileSystem) resolve(get getter, path string) (*directoryRecord, error) {
	return fs.resolveAt(get, fs.rootRecord, "/", splitPath(path), 0)
}

func (fs *FileSystem) resolveAt(get getter, from *directoryRecord, fromDir string, segments []string, depth int) (*directoryRecord, error) {
	if depth > maxSUSPDepth {
		return nil, fmt.Errorf("iso9660: %w: symlink resolution depth exceeded", archvfs.ErrIOError)
	}

	cur := from
	dir := fromDir
	for _, seg := range segments {
		seg = fs.caseFold.Fold(seg)
		if !cur.IsDirectory() {
			return nil, fmt.Errorf("iso9660: %w: %s", archvfs.ErrNotADirectory, dir)
		}
		children, err := fs.children(get, cur)
		if err != nil {
			return nil, err
		}
		next, ok := children[seg]
		if !ok {
			return nil, fmt.Errorf("iso9660: %w: %s/%s", archvfs.ErrNoSuchFile, dir, seg)
		}
		cur = next
		dir = joinPath(dir, seg)

		if cur.IsSymlink() {
			targetDir, targetSegs := splitSymlinkTarget(cur.rrSymlink, parentPath(dir))
			resolved, err := fs.resolveAt(get, fs.rootRecord, "/", splitPath(targetDir), depth+1)
			if err != nil {
				return nil, err
			}
			resolved, err = fs.resolveAt(get, resolved, targetDir, targetSegs, depth+1)
			if err != nil {
				return nil, err
			}
			cur = resolved
		}
	}
	return cur, nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func parentPath(path string) string {
	idx := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// splitSymlinkTarget resolves a Rock Ridge SL target (which may itself
// start with "../" or "./" components) against the directory containing the
// symlink, returning an absolute directory to re-resolve from and the
// remaining path segments within it.
func splitSymlinkTarget(target, containingDir string) (string, []string) {
	if strings.HasPrefix(target, "/") {
		return "/", splitPath(target)
	}

	dir := containingDir
	segs := splitPath(target)
	i := 0
	for i < len(segs) {
		switch segs[i] {
		case ".":
			i++
		case "..":
			dir = parentPath(dir)
			i++
		default:
			return dir, segs[i:]
		}
	}
	return dir, nil
}
