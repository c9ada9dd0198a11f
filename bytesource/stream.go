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

package bytesource

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamSource is a ByteSource fed progressively by Append as bytes arrive
// off a stream whose total size is known up front. A Get that reaches past
// the current watermark blocks the calling goroutine until enough bytes
// arrive, the source is closed with an error, or ctx is done; GetSync never
// blocks and instead reports ErrNotReady.
type StreamSource struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []byte
	size      uint64
	watermark uint64
	closeErr  error
	closed    bool
}

// NewStreamSource creates a StreamSource that will eventually hold size
// bytes, delivered through calls to Append.
func NewStreamSource(size uint64) *StreamSource {
	s := &StreamSource{
		buf:  make([]byte, 0, size),
		size: size,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// FromStream starts a background goroutine copying r into a new StreamSource
// of the given size, returning immediately. Read errors close the source
// with that error so waiters still blocked on Get observe it.
func FromStream(r io.Reader, size uint64) *StreamSource {
	s := NewStreamSource(size)
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				s.Append(buf[:n])
			}
			if err != nil {
				if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by contract
					s.Close(nil)
				} else {
					s.Close(err)
				}
				return
			}
		}
	}()
	return s
}

// Append adds p to the buffer and wakes any waiters whose range may now be
// satisfied.
func (s *StreamSource) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.watermark = uint64(len(s.buf))
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Close marks the stream as finished, optionally with an error that every
// blocked or future Get/GetSync observes once it would otherwise wait past
// the watermark.
func (s *StreamSource) Close(err error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.closeErr = err
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *StreamSource) Size() uint64 { return s.size }

// GetSync returns the requested range if it is already buffered, or
// ErrNotReady otherwise. Once the stream is closed, a range past the
// watermark fails with the wrapped close error, or with a past-end error
// when the stream was closed without one.
func (s *StreamSource) GetSync(offset, length uint64) ([]byte, error) {
	if err := checkRange(s.size, offset, length); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trySlice(offset, length)
}

// trySlice returns a slice if the watermark already covers it; must be
// called with s.mu held.
func (s *StreamSource) trySlice(offset, length uint64) ([]byte, error) {
	if offset+length <= s.watermark {
		out := make([]byte, length)
		copy(out, s.buf[offset:offset+length])
		return out, nil
	}
	if s.closed {
		if s.closeErr != nil {
			return nil, fmt.Errorf("byte source: stream closed: %w", s.closeErr)
		}
		return nil, fmt.Errorf("byte source: range [%d, %d) past end of stream (%d bytes delivered)",
			offset, offset+length, s.watermark)
	}
	return nil, ErrNotReady
}

// Get waits for [offset, offset+length) to be buffered, honoring ctx
// cancellation.
func (s *StreamSource) Get(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := checkRange(s.size, offset, length); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		out, err := s.trySlice(offset, length)
		if err == nil || err != ErrNotReady { //nolint:errorlint // sentinel comparison
			return out, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.cond.Wait()
	}
}
