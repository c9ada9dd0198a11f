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

// Package bytesource provides the sized, random-access byte source that
// backs every archive decoder. A source may be synchronous (the whole image
// already sits in memory or on disk) or progressively filled (bytes arrive
// off a stream); decoders never need to know which.
package bytesource

import (
	"context"
	"fmt"
	"io"

	"github.com/archvfs/archvfs/archvfs"
	binaryutil "github.com/archvfs/archvfs/internal/binary"
)

// ByteSource is a sized, random-access view over an archive image.
type ByteSource interface {
	// Size returns the total addressable length.
	Size() uint64

	// GetSync returns the requested range without suspending. A source that
	// has not yet buffered [offset, offset+length) returns ErrNotReady.
	GetSync(offset, length uint64) ([]byte, error)

	// Get returns the requested range, waiting on ctx if the bytes have not
	// arrived yet. Synchronous sources implement it as GetSync with no wait.
	Get(ctx context.Context, offset, length uint64) ([]byte, error)
}

// ErrNotReady is returned by GetSync when the requested range extends past
// the current watermark of a progressively filled source.
var ErrNotReady = fmt.Errorf("byte source: range not yet available")

func checkRange(size, offset, length uint64) error {
	if length == 0 {
		return nil
	}
	if offset > size || length > size-offset {
		return fmt.Errorf("byte source: range [%d,%d) exceeds size %d: %w", offset, offset+length, size, archvfs.ErrInvalidArgument)
	}
	return nil
}

// MemSource is a ByteSource backed by an in-memory buffer. Reads are always
// synchronous subrange views with no copy.
type MemSource struct {
	buf []byte
}

// NewMemSource wraps buf as a ByteSource.
func NewMemSource(buf []byte) *MemSource {
	return &MemSource{buf: buf}
}

func (m *MemSource) Size() uint64 { return uint64(len(m.buf)) }

func (m *MemSource) GetSync(offset, length uint64) ([]byte, error) {
	if err := checkRange(m.Size(), offset, length); err != nil {
		return nil, err
	}
	return m.buf[offset : offset+length], nil
}

func (m *MemSource) Get(_ context.Context, offset, length uint64) ([]byte, error) {
	return m.GetSync(offset, length)
}

// ReaderAtSource is a ByteSource backed by an io.ReaderAt of known size, such
// as an *os.File or any other seekable backing store.
type ReaderAtSource struct {
	r    io.ReaderAt
	size uint64
}

// NewReaderAtSource wraps r, which must serve exactly size addressable bytes.
func NewReaderAtSource(r io.ReaderAt, size uint64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

func (s *ReaderAtSource) Size() uint64 { return s.size }

func (s *ReaderAtSource) GetSync(offset, length uint64) ([]byte, error) {
	if err := checkRange(s.size, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	buf, err := binaryutil.ReadBytesAt(s.r, int64(offset), int(length)) //nolint:gosec // bounded above
	if err != nil {
		return nil, fmt.Errorf("byte source: read at %d: %w", offset, err)
	}
	return buf, nil
}

func (s *ReaderAtSource) Get(_ context.Context, offset, length uint64) ([]byte, error) {
	return s.GetSync(offset, length)
}
