// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4"
)

// Open opens the kar archive from r. It will also check
// if the file is actually a kar archive, will return an error
// when file incorrect.
func Open(r io.ReaderAt) (*Archive, error) {
	magicBytes := make([]byte, MagicLength)
	if num, err := r.ReadAt(magicBytes, 0); err != nil {
		return nil, err
	} else if num < MagicLength || !bytes.Equal(magicBytes, magic) {
		return nil, ErrFileFormat
	}

	headerSizeBytes := make([]byte, HeaderSizeNumberLength)
	if num, err := r.ReadAt(headerSizeBytes, MagicLength); err != nil {
		return nil, err
	} else if num < HeaderSizeNumberLength {
		return nil, ErrFileFormat
	}

	headerSize, err := binaryToint64(headerSizeBytes)
	if err != nil || headerSize <= 0 {
		return nil, ErrFileFormat
	}

	headerBytes := make([]byte, headerSize)
	if num, err := r.ReadAt(headerBytes, MagicLength+HeaderSizeNumberLength); err != nil {
		return nil, err
	} else if int64(num) < headerSize {
		return nil, ErrFileFormat
	}

	var header Header
	if err := gobDecode(&header, headerBytes); err != nil {
		return nil, ErrFileFormat
	}

	return &Archive{
		reader: r,
		header: header,
	}, nil
}

// Archive provides concurrent io for a kar file, and can provide
// an io.Reader for each file separately to perform actions on.
type Archive struct {
	reader io.ReaderAt
	header Header
}

// Info returns the archive metadata as it was read on open.
func (a *Archive) Info() Header {
	return a.header
}

// Index returns the file table of the archive.
func (a *Archive) Index() []IndexEntry {
	return a.header.Index
}

func (a *Archive) find(name string) (IndexEntry, error) {
	for _, entry := range a.header.Index {
		if entry.Name == name {
			return entry, nil
		}
	}
	return IndexEntry{}, ErrNotFound
}

// ReadAll returns the entire contents of a file with a given name
func (a *Archive) ReadAll(name string) ([]byte, error) {
	entry, err := a.find(name)
	if err != nil {
		return nil, err
	}

	contents := make([]byte, entry.Size)
	section := io.NewSectionReader(a.reader, entry.Offset, entry.CompressedSize)
	if _, err := io.ReadFull(lz4.NewReader(section), contents); err != nil {
		return nil, err
	}
	return contents, nil
}

// Open returns a Reader for a file in the Archive
func (a *Archive) Open(name string) (*Reader, error) {
	entry, err := a.find(name)
	if err != nil {
		return nil, err
	}

	section := io.NewSectionReader(a.reader, entry.Offset, entry.CompressedSize)
	return &Reader{
		decomp: lz4.NewReader(section),
		size:   entry.Size,
	}, nil
}

// Reader is a reader for a single file in an Archive.
// Abstracts away the location that needs to be known.
type Reader struct {
	decomp io.Reader
	size   int64
}

// Size returns the decompressed size of the file.
func (r *Reader) Size() int64 {
	return r.size
}

// Read reads already decompressed data
func (r *Reader) Read(p []byte) (n int, err error) {
	return r.decomp.Read(p)
}
