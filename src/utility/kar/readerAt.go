// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"io"
	"sync"
)

// NewReaderAt adapts a plain read seeker into the random access
// reader an Archive needs.
func NewReaderAt(r io.ReadSeeker) *ReaderAt {
	return &ReaderAt{
		source: r,
	}
}

// ReaderAt provides concurrent random access io on top of a
// sequential reader. The seek and read pair is serialised, every
// ReadAt sets the position itself.
type ReaderAt struct {
	mutex  sync.Mutex
	source io.ReadSeeker
}

// ReadAt reads the file at that location
func (r *ReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.source.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.source, p)
}
