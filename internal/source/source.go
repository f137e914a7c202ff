// Package source reads byte ranges of local files for chunked upload.
//
// A [File] is opened against the fingerprint of an [models.UploadUnit]; if the
// file on disk no longer matches, reads fail with [shared.ErrSourceChanged]
// instead of silently uploading different bytes.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

// File is an open, fingerprint-checked upload source.
type File struct {
	f    *os.File
	path string
	size int64
}

// Open opens the unit's file and checks it still matches the unit fingerprint.
func Open(unit models.UploadUnit) (*File, error) {
	info, err := os.Stat(unit.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", shared.ErrSourceNotFound, unit.Path)
		}
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrSourceUnreadable, unit.Path, err)
	}

	switch {
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", shared.ErrSourceUnreadable, unit.Path)
	case info.Size() == 0:
		return nil, fmt.Errorf("%w: %s is empty", shared.ErrSourceUnreadable, unit.Path)
	case info.Size() > shared.MaxUploadSize:
		return nil, fmt.Errorf("%w: %s is %s", shared.ErrSourceTooLarge, unit.Path, shared.HumanBytes(info.Size()))
	}

	if info.Size() != unit.Size || !info.ModTime().Equal(unit.ModTime) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSourceChanged, unit.Path)
	}

	f, err := os.Open(unit.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", shared.ErrSourceNotFound, unit.Path)
		}
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrSourceUnreadable, unit.Path, err)
	}

	return &File{f: f, path: unit.Path, size: info.Size()}, nil
}

// Size returns the total size recorded when the file was opened.
func (s *File) Size() int64 {
	return s.size
}

// ReadRange returns up to length bytes starting at offset.
//
// The result is shorter than length only when the range reaches the end of the file.
func (s *File) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset > s.size {
		return nil, fmt.Errorf("%w: range [%d, +%d) outside %d bytes", shared.ErrInvalidArgument, offset, length, s.size)
	}

	if err := s.checkUnchanged(); err != nil {
		return nil, err
	}

	if remaining := s.size - offset; length > remaining {
		length = remaining
	}

	buf := make([]byte, length)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		if errors.Is(err, io.EOF) {
			// The file shrank between stat and read.
			return nil, fmt.Errorf("%w: %s", shared.ErrSourceChanged, s.path)
		}
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrSourceIOFault, s.path, err)
	}

	return buf[:n], nil
}

// Close releases the file handle.
func (s *File) Close() error {
	return s.f.Close()
}

func (s *File) checkUnchanged() error {
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrSourceIOFault, s.path, err)
	}
	if info.Size() != s.size {
		return fmt.Errorf("%w: %s", shared.ErrSourceChanged, s.path)
	}
	return nil
}

// NextRange returns the byte range [start, end] of the chunk following committed.
// end is inclusive, matching Content-Range notation.
func NextRange(committed, chunkSize, total int64) (start, end int64) {
	start = committed
	end = committed + chunkSize - 1
	if end >= total {
		end = total - 1
	}
	return start, end
}

// Classify maps a source error onto the failure taxonomy.
func Classify(err error) models.FailureKind {
	switch {
	case err == nil:
		return models.FailureNone
	case errors.Is(err, shared.ErrSourceNotFound):
		return models.FailureSourceNotFound
	case errors.Is(err, shared.ErrSourceChanged):
		return models.FailureSourceChanged
	case errors.Is(err, shared.ErrSourceTooLarge):
		return models.FailurePermanentRequest
	case errors.Is(err, shared.ErrSourceUnreadable):
		return models.FailureSourceUnreadable
	case errors.Is(err, shared.ErrSourceIOFault):
		return models.FailureIOFault
	default:
		return models.FailureUnknown
	}
}
