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

// Command discvfs mounts an ISO 9660 or PKZIP archive and inspects it through
// the read-only archvfs.FileSystem contract, without ever extracting the
// whole archive to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archvfs/archvfs/archvfs"
	"github.com/archvfs/archvfs/bytesource"
	"github.com/archvfs/archvfs/iso9660"
	"github.com/archvfs/archvfs/zip"
)

const appVersion = "0.1.0"

var (
	archivePath = flag.String("f", "", "archive path (required)")
	format      = flag.String("format", "", "archive format: iso9660 or zip (auto-detect from extension if omitted)")
	caseFold    = flag.String("case-fold", "lower", "ISO 9660 path case folding: lower, upper, or none")
	version     = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -f <archive> <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Mounts an ISO 9660 or PKZIP archive read-only and inspects it.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  ls <path>      list a directory's entries\n")
		fmt.Fprintf(os.Stderr, "  stat <path>    print an entry's metadata\n")
		fmt.Fprintf(os.Stderr, "  cat <path>     print a file's contents to stdout\n")
		fmt.Fprintf(os.Stderr, "  usage          print the archive's total addressable size\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -f game.iso ls /\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -f archive.zip cat /readme.txt\n", os.Args[0])
	}
	flag.Parse()

	if *version {
		fmt.Printf("discvfs version %s\n", appVersion)
		os.Exit(0)
	}

	args := flag.Args()
	if *archivePath == "" || len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	fold, err := parseCaseFold(*caseFold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fs, closeFn, err := mountArchive(*archivePath, *format, fold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error mounting %s: %v\n", *archivePath, err)
		os.Exit(1)
	}
	defer closeFn()

	cmd, rest := args[0], args[1:]
	if err := runCommand(fs, cmd, rest); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseCaseFold(s string) (archvfs.CaseFold, error) {
	switch strings.ToLower(s) {
	case "lower":
		return archvfs.CaseFoldLower, nil
	case "upper":
		return archvfs.CaseFoldUpper, nil
	case "none":
		return archvfs.CaseFoldNone, nil
	default:
		return 0, fmt.Errorf("unknown case-fold mode %q (want lower, upper, or none)", s)
	}
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return "zip"
	default:
		return "iso9660"
	}
}

// mountArchive opens path as a memory-mapped-free file source and mounts it
// with the requested (or auto-detected) backend, returning a cleanup
// function that closes the underlying file.
func mountArchive(path, fmtName string, fold archvfs.CaseFold) (archvfs.FileSystem, func(), error) {
	if fmtName == "" {
		fmtName = detectFormat(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	src := bytesource.NewReaderAtSource(f, uint64(info.Size()))

	ctx := context.Background()
	switch fmtName {
	case "iso9660":
		fs, err := iso9660.Mount(ctx, iso9660.Options{Source: src, Name: path, CaseFold: fold})
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return fs, func() { f.Close() }, nil
	case "zip":
		fs, err := zip.Mount(ctx, zip.Options{Source: src, Name: path})
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return fs, func() { f.Close() }, nil
	default:
		f.Close()
		return nil, nil, fmt.Errorf("unknown format %q (want iso9660 or zip)", fmtName)
	}
}

func runCommand(fs archvfs.FileSystem, cmd string, args []string) error {
	switch cmd {
	case "ls":
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		return runLs(fs, path)
	case "stat":
		if len(args) < 1 {
			return fmt.Errorf("stat requires a path")
		}
		return runStat(fs, args[0])
	case "cat":
		if len(args) < 1 {
			return fmt.Errorf("cat requires a path")
		}
		return runCat(fs, args[0])
	case "usage":
		u := fs.Usage()
		fmt.Printf("total: %d bytes\n", u.TotalSpace)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runLs(fs archvfs.FileSystem, path string) error {
	names, err := fs.ReaddirSync(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runStat(fs archvfs.FileSystem, path string) error {
	inode, err := fs.StatSync(path)
	if err != nil {
		return err
	}
	kind := "file"
	switch {
	case inode.IsDir():
		kind = "directory"
	case inode.IsSymlink():
		kind = "symlink"
	}
	fmt.Printf("path:  %s\n", path)
	fmt.Printf("type:  %s\n", kind)
	fmt.Printf("size:  %d\n", inode.Size)
	fmt.Printf("mtime: %d\n", inode.MtimeMs)
	return nil
}

func runCat(fs archvfs.FileSystem, path string) error {
	inode, err := fs.StatSync(path)
	if err != nil {
		return err
	}
	if inode.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	var offset int64
	for offset < inode.Size {
		end := offset + chunk
		if end > inode.Size {
			end = inode.Size
		}
		n, err := fs.ReadSync(path, buf[:end-offset], offset, end)
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			return err
		}
		offset += int64(n)
	}
	return nil
}
