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

package zip

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/archvfs/archvfs/archvfs"
	"github.com/archvfs/archvfs/bytesource"
	"github.com/archvfs/archvfs/codec"
	"github.com/archvfs/archvfs/decompress"
)

// syntheticDirSize is the fixed size reported for directory inodes, which
// have no real extent of their own.
const syntheticDirSize = 4096

// getter fetches exactly length bytes at offset from the mounted byte source.
type getter func(offset, length uint64) ([]byte, error)

// entry is a synthesized directory-tree node: either a central directory
// file entry, or a directory promoted into existence because some entry's
// name implied it without ever appearing in the central directory itself.
type entry struct {
	name     string
	isDir    bool
	children map[string]*entry
	cde      *centralDirectoryEntry // nil for promoted directories
}

// Options configures a Mount call.
type Options struct {
	Source bytesource.ByteSource
	Name   string

	// Decompressors is consulted to inflate entry contents. Default() is
	// used when left nil.
	Decompressors *decompress.Registry

	// Lazy defers decompressing an entry's full content until first read,
	// caching the result; when false, every entry is decompressed at
	// Mount time.
	Lazy bool
}

// FileSystem is a mounted, read-only PKZIP central-directory archive.
type FileSystem struct {
	src       bytesource.ByteSource
	name      string
	reg       *decompress.Registry
	lazy      bool
	root      *entry
	mountTime time.Time

	mu      sync.Mutex
	content map[*entry][]byte
}

var _ archvfs.FileSystem = (*FileSystem)(nil)

// Mount scans backward from the end of the source for the end-of-central-
// directory record, walks the central directory it points to, and builds a
// synthetic directory tree from the (possibly directory-less) entry names it
// finds. Spanned archives (split across disks) and ZIP64 entries are
// rejected outright.
func Mount(ctx context.Context, opts Options) (*FileSystem, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("zip: mount: %w: nil byte source", archvfs.ErrInvalidArgument)
	}
	get := asyncGetter(ctx, opts.Source)
	reg := opts.Decompressors
	if reg == nil {
		reg = decompress.Default()
	}

	eocd, _, err := locateEOCD(get, opts.Source.Size())
	if err != nil {
		return nil, fmt.Errorf("zip: mount: %w", err)
	}
	if eocd.disk != 0 || eocd.centralDirDisk != 0 || eocd.entriesOnDisk != eocd.entriesTotal {
		return nil, fmt.Errorf("zip: mount: %w: spanned archives are not supported", archvfs.ErrInvalidArgument)
	}
	if eocd.centralDirOffset == zip64Marker32 || eocd.centralDirSize == zip64Marker32 {
		return nil, fmt.Errorf("zip: mount: %w: ZIP64 archives are not supported", archvfs.ErrInvalidArgument)
	}

	cdBuf, err := get(uint64(eocd.centralDirOffset), uint64(eocd.centralDirSize))
	if err != nil {
		return nil, fmt.Errorf("zip: mount: read central directory: %w", err)
	}

	root := &entry{name: "/", isDir: true, children: map[string]*entry{}}
	i := 0
	for count := 0; count < int(eocd.entriesTotal); count++ {
		if i >= len(cdBuf) {
			break
		}
		ent, consumed, err := parseCentralDirectoryEntry(cdBuf[i:])
		if err != nil {
			return nil, fmt.Errorf("zip: mount: central directory entry %d: %w", count, err)
		}
		if strings.HasPrefix(ent.name, "/") {
			return nil, fmt.Errorf("zip: mount: entry %q: %w: absolute paths are not supported", ent.name, archvfs.ErrInvalidArgument)
		}
		if ent.isZip64() {
			return nil, fmt.Errorf("zip: mount: entry %q: %w: ZIP64 archives are not supported", ent.name, archvfs.ErrInvalidArgument)
		}
		if ent.diskNumberStart != 0 {
			return nil, fmt.Errorf("zip: mount: entry %q: %w: spanned archives are not supported", ent.name, archvfs.ErrInvalidArgument)
		}
		insertEntry(root, ent)
		i += consumed
	}

	fs := &FileSystem{
		src:       opts.Source,
		name:      opts.Name,
		reg:       reg,
		lazy:      opts.Lazy,
		root:      root,
		mountTime: time.Now(),
		content:   make(map[*entry][]byte),
	}

	if !fs.lazy {
		if err := fs.preloadAll(get, root); err != nil {
			return nil, fmt.Errorf("zip: mount: preload: %w", err)
		}
	}

	return fs, nil
}

// locateEOCD scans backward for the end-of-central-directory signature,
// honoring the archive comment's maximum length so the search never reads
// past 64KiB+22 bytes before the end of the source.
func locateEOCD(get getter, size uint64) (endOfCentralDirectory, uint64, error) {
	scanSize := uint64(eocdFixedSize + maxCommentLength)
	if scanSize > size {
		scanSize = size
	}
	if scanSize < eocdFixedSize {
		return endOfCentralDirectory{}, 0, fmt.Errorf("zip: source too small to hold an end-of-central-directory record")
	}

	start := size - scanSize
	tail, err := get(start, scanSize)
	if err != nil {
		return endOfCentralDirectory{}, 0, fmt.Errorf("read end-of-central-directory tail: %w", err)
	}

	sig := make([]byte, 4)
	binary.LittleEndian.PutUint32(sig, sigEOCD)
	for i := len(tail) - eocdFixedSize; i >= 0; i-- {
		if bytes.Equal(tail[i:i+4], sig) {
			eocd, err := parseEOCD(tail[i:])
			if err != nil {
				continue
			}
			return eocd, start + uint64(i), nil
		}
	}
	return endOfCentralDirectory{}, 0, fmt.Errorf("end-of-central-directory record not found")
}

// insertEntry splits a central-directory name on "/" and grafts it into the
// tree, synthesizing any intermediate directory components that never
// appeared as their own central-directory record.
func insertEntry(root *entry, cde centralDirectoryEntry) {
	parts := strings.Split(strings.Trim(cde.name, "/"), "/")
	cur := root
	for idx, part := range parts {
		if part == "" {
			continue
		}
		last := idx == len(parts)-1
		child, ok := cur.children[part]
		if !ok {
			child = &entry{name: part, isDir: !last || cde.isDirectory(), children: map[string]*entry{}}
			cur.children[part] = child
		}
		if last && !cde.isDirectory() {
			ce := cde
			child.cde = &ce
			child.isDir = false
		}
		cur = child
	}
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

func (fs *FileSystem) Usage() archvfs.Usage {
	return archvfs.Usage{TotalSpace: fs.src.Size()}
}

func (fs *FileSystem) StatSync(path string) (archvfs.Inode, error) {
	return fs.stat(path)
}

func (fs *FileSystem) Stat(_ context.Context, path string) (archvfs.Inode, error) {
	return fs.stat(path)
}

func (fs *FileSystem) ReaddirSync(path string) ([]string, error) {
	return fs.readdir(path)
}

func (fs *FileSystem) Readdir(_ context.Context, path string) ([]string, error) {
	return fs.readdir(path)
}

func (fs *FileSystem) ReadSync(path string, dst []byte, offset, end int64) (int, error) {
	return fs.read(syncGetter(fs.src), path, dst, offset, end)
}

func (fs *FileSystem) Read(ctx context.Context, path string, dst []byte, offset, end int64) (int, error) {
	return fs.read(asyncGetter(ctx, fs.src), path, dst, offset, end)
}

func (fs *FileSystem) stat(path string) (archvfs.Inode, error) {
	e, err := fs.resolve(path)
	if err != nil {
		return archvfs.Inode{}, err
	}
	var mode uint32 = archvfs.ModePermission
	var size int64
	var atimeMs, mtimeMs int64
	if e.isDir {
		mode |= archvfs.ModeDir
		size = syntheticDirSize
		mtimeMs = fs.mountTime.UnixMilli()
		atimeMs = time.Now().UnixMilli()
	} else if e.cde != nil {
		size = int64(e.cde.uncompressedSize)
		mtimeMs = codec.DecodeMSDOSDateTime(e.cde.modDate, e.cde.modTime).UnixMilli()
		atimeMs = mtimeMs
		if e.cde.isEncrypted() {
			return archvfs.Inode{}, fmt.Errorf("zip: stat %s: %w: encrypted entries are not supported", path, archvfs.ErrPermissionDenied)
		}
	}
	return archvfs.Inode{
		Mode:    mode,
		Size:    size,
		AtimeMs: atimeMs,
		MtimeMs: mtimeMs,
		CtimeMs: mtimeMs,
	}, nil
}

func (fs *FileSystem) readdir(path string) ([]string, error) {
	e, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if !e.isDir {
		return nil, fmt.Errorf("zip: readdir %s: %w", path, archvfs.ErrNotADirectory)
	}
	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	return names, nil
}

func (fs *FileSystem) read(get getter, path string, dst []byte, offset, end int64) (int, error) {
	e, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	if e.isDir {
		return 0, fmt.Errorf("zip: read %s: %w", path, archvfs.ErrIsADirectory)
	}
	if e.cde == nil {
		return 0, fmt.Errorf("zip: read %s: %w", path, archvfs.ErrNoData)
	}
	if e.cde.isEncrypted() {
		return 0, fmt.Errorf("zip: read %s: %w: encrypted entries are not supported", path, archvfs.ErrPermissionDenied)
	}

	data, err := fs.contentOf(get, e)
	if err != nil {
		return 0, fmt.Errorf("zip: read %s: %w", path, err)
	}
	if offset < 0 || end < offset || uint64(end) > uint64(len(data)) { //nolint:gosec // bounds validated
		return 0, fmt.Errorf("zip: read %s: %w: range [%d,%d) outside size %d",
			path, archvfs.ErrInvalidArgument, offset, end, len(data))
	}
	n := copy(dst, data[offset:end])
	return n, nil
}

// contentOf returns e's fully decompressed content, decompressing and
// caching it on first use under lazy mode.
func (fs *FileSystem) contentOf(get getter, e *entry) ([]byte, error) {
	fs.mu.Lock()
	if data, ok := fs.content[e]; ok {
		fs.mu.Unlock()
		return data, nil
	}
	fs.mu.Unlock()

	data, err := fs.decompressEntry(get, e)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.content[e] = data
	fs.mu.Unlock()
	return data, nil
}

func (fs *FileSystem) decompressEntry(get getter, e *entry) ([]byte, error) {
	cde := e.cde
	lfhHead, err := get(uint64(cde.localHeaderOffset), lfhFixedSize)
	if err != nil {
		return nil, fmt.Errorf("read local file header: %w", err)
	}
	dataOffset, err := localFileHeaderDataOffset(lfhHead, uint64(cde.localHeaderOffset))
	if err != nil {
		return nil, err
	}

	compressed, err := get(dataOffset, uint64(cde.compressedSize))
	if err != nil {
		return nil, fmt.Errorf("read compressed data: %w", err)
	}

	data, err := fs.reg.Decompress(cde.method, compressed, uint64(cde.uncompressedSize), cde.generalPurposeFlag)
	if err != nil {
		return nil, fmt.Errorf("decompress %q: %w", e.name, err)
	}
	return data, nil
}

func (fs *FileSystem) preloadAll(get getter, e *entry) error {
	if e.cde != nil {
		if _, err := fs.contentOf(get, e); err != nil {
			return err
		}
	}
	for _, child := range e.children {
		if err := fs.preloadAll(get, child); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) resolve(path string) (*entry, error) {
	path = strings.Trim(path, "/")
	cur := fs.root
	if path == "" {
		return cur, nil
	}
	for _, part := range strings.Split(path, "/") {
		if !cur.isDir {
			return nil, fmt.Errorf("zip: %w: %s", archvfs.ErrNotADirectory, path)
		}
		next, ok := cur.children[part]
		if !ok {
			return nil, fmt.Errorf("zip: %w: %s", archvfs.ErrNoSuchFile, path)
		}
		cur = next
	}
	return cur, nil
}
