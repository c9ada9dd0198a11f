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

// Package decompress provides a pluggable registry of ZIP compression
// methods, mirroring the method→codec registry the teacher's chd package
// uses for its hunk codecs, keyed by the ZIP "compression method" field
// instead of a CHD codec tag.
package decompress

import (
	"fmt"
	"sync"

	"github.com/archvfs/archvfs/archvfs"
)

// Method is a ZIP central-directory/local-header compression method code.
type Method uint16

// Methods required or commonly supported by this module. Anything else
// registered is opt-in.
const (
	MethodStore  Method = 0
	MethodDeflate Method = 8
	MethodBZIP2  Method = 12
	MethodLZMA   Method = 14
)

// Func decompresses a single entry's compressed bytes. usz is the
// uncompressed size from the central directory, used to preallocate the
// result (the output length is not checked against it); flags carries the general-purpose bit flags from
// the local/central header (LZMA uses bit 1 to signal an end-of-stream
// marker instead of a trusted uncompressed size).
type Func func(compressed []byte, usz uint64, flags uint16) ([]byte, error)

// Registry maps ZIP compression methods to decompressor functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[Method]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[Method]Func)}
}

// Register installs fn for method, replacing any previous registration.
func (r *Registry) Register(method Method, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[method] = fn
}

// Decompress dispatches to the registered function for method.
func (r *Registry) Decompress(method Method, compressed []byte, usz uint64, flags uint16) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.funcs[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decompress: unsupported compression method %d: %w", method, archvfs.ErrInvalidArgument)
	}
	return fn(compressed, usz, flags)
}

// Default returns a registry with STORE, DEFLATE, LZMA, and BZIP2 already
// registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register(MethodStore, storeDecompress)
	r.Register(MethodDeflate, deflateDecompress)
	r.Register(MethodLZMA, lzmaDecompress)
	r.Register(MethodBZIP2, bzip2Decompress)
	return r
}

func storeDecompress(compressed []byte, _ uint64, _ uint16) ([]byte, error) {
	return compressed, nil
}
