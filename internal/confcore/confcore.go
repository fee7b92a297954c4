// Package confcore holds the small set of types shared by the loader,
// registry, and dispatcher packages so that none of them need to import
// each other just to pass around a stat tuple or an error classification.
package confcore

import (
	"encoding/hex"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrorKind classifies a failure the way spec.md §7 does: by category,
// not by concrete Go error type, so callers can make recovery decisions
// (fall back to last-good, retry, terminate) based on the kind alone.
type ErrorKind int

const (
	// ErrNone means no error occurred.
	ErrNone ErrorKind = iota
	// ErrNotFound means the file (and its .gz sibling) is absent.
	ErrNotFound
	// ErrIO means an open/read/stat failure other than not-found.
	ErrIO
	// ErrParse means a header/version/count/section mismatch or malformed field.
	ErrParse
	// ErrOutOfMemory means an allocation failed on the hot reload path.
	ErrOutOfMemory
	// ErrPolicy means a programming error (double registration, bad wildcard placement).
	ErrPolicy
	// ErrOverflow means the filesystem-event queue lost events.
	ErrOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrNotFound:
		return "not_found"
	case ErrIO:
		return "io"
	case ErrParse:
		return "parse"
	case ErrOutOfMemory:
		return "out_of_memory"
	case ErrPolicy:
		return "policy"
	case ErrOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// ConfError is the single error type produced by this module's packages.
// File and Line are set whenever the failure can be localized to a line
// in a config file (spec.md §7: "reported with file name and line number").
type ConfError struct {
	Kind ErrorKind
	File string
	Line uint
	Err  error
}

func (e *ConfError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Kind, e.Err)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConfError) Unwrap() error { return e.Err }

// NewError builds a ConfError with no line context.
func NewError(kind ErrorKind, file string, err error) *ConfError {
	return &ConfError{Kind: kind, File: file, Err: err}
}

// NewLineError builds a ConfError anchored to a specific line number.
func NewLineError(kind ErrorKind, file string, line uint, err error) *ConfError {
	return &ConfError{Kind: kind, File: file, Line: line, Err: err}
}

// Kind extracts the ErrorKind from any error, defaulting to ErrIO for
// errors this package didn't produce itself.
func Kind(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	var ce *ConfError
	if asConfError(err, &ce) {
		return ce.Kind
	}
	return ErrIO
}

func asConfError(err error, target **ConfError) bool {
	for err != nil {
		if ce, ok := err.(*ConfError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// FileStat is the dev/ino/size/mtime tuple conf-info and the segment
// watcher compare against to decide "did this file change?" without
// reading it (spec.md §4.4).
type FileStat struct {
	Dev   uint64
	Ino   uint64
	Size  int64
	Mtime time.Time
}

// Zero reports whether the stat tuple has never been populated (the
// file was never seen before).
func (s FileStat) Zero() bool {
	return s.Dev == 0 && s.Ino == 0 && s.Size == 0 && s.Mtime.IsZero()
}

// Equal reports whether two stat tuples describe the same unchanged file.
func (s FileStat) Equal(o FileStat) bool {
	return s.Dev == o.Dev && s.Ino == o.Ino && s.Size == o.Size && s.Mtime.Equal(o.Mtime)
}

// StatFile stats path, falling back to path+".gz", matching the dual
// lookup every segment and registered file uses throughout this module.
func StatFile(path string) (FileStat, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		fi, err = os.Stat(path + ".gz")
	}
	if err != nil {
		if os.IsNotExist(err) {
			return FileStat{}, NewError(ErrNotFound, path, err)
		}
		return FileStat{}, NewError(ErrIO, path, err)
	}
	return StatFromFileInfo(fi), nil
}

// StatFromFileInfo extracts the dev/ino/size/mtime tuple from an
// already-open os.FileInfo (e.g. from an open *os.File), avoiding a
// second syscall when the caller has already opened the file.
func StatFromFileInfo(fi os.FileInfo) FileStat {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return FileStat{Size: fi.Size(), Mtime: fi.ModTime()}
	}
	return FileStat{
		Dev:   uint64(st.Dev),
		Ino:   st.Ino,
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
	}
}

// Digest is the 128-bit content hash spec.md §3 calls for. The original
// C library (libuup's conf-info.h) hashes with MD5 — see DESIGN.md for
// why this is the one spot in the module that uses a standard-library
// primitive instead of a corpus dependency.
type Digest [16]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest was never set.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
