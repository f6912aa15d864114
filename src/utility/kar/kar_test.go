// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/devblok/ponga/src/utility/kar"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func buildTestArchive(t *testing.T) *bytes.Buffer {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	builder.Add("test", bytes.NewReader([]byte(testString1)))
	builder.Add("test2", bytes.NewReader([]byte(testString2)))

	buf := bytes.NewBuffer([]byte{})
	if written, err := builder.WriteTo(buf); err != nil {
		t.Fatal(err)
	} else {
		t.Logf("written %d", written)
	}
	return buf
}

func TestCreateAndRead(t *testing.T) {
	buf := buildTestArchive(t)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Error(err)
	}

	f, err := ar.Open("test")
	if err != nil {
		t.Error(err)
	}

	result := make([]byte, len(testString1))
	n, err := f.Read(result)
	if err != nil {
		t.Error(err)
	}
	t.Log(n)

	if strings.Compare(string(result), testString1) != 0 {
		t.Error("test string does not match up")
	}
}

func TestCreateAndReadAll(t *testing.T) {
	buf := buildTestArchive(t)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Error(err)
	}

	f, err := ar.ReadAll("test")
	if err != nil {
		t.Error(err)
	}

	if strings.Compare(string(f), testString1) != 0 {
		t.Error("test string does not match up")
	}
}

func TestIndex(t *testing.T) {
	buf := buildTestArchive(t)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}

	index := ar.Index()
	if len(index) != 2 {
		t.Fatalf("index has %d entries, expected 2", len(index))
	}
	if index[0].Name != "test" || index[1].Name != "test2" {
		t.Error("index entries are misnamed")
	}
	if index[0].Size != int64(len(testString1)) {
		t.Errorf("index reports size %d, expected %d", index[0].Size, len(testString1))
	}
	if index[1].Offset != index[0].Offset+index[0].CompressedSize {
		t.Error("entries are not laid out back to back")
	}

	if info := ar.Info(); info.Author != "devblok" {
		t.Error("header metadata did not survive the roundtrip")
	}
}

func TestMissingFile(t *testing.T) {
	buf := buildTestArchive(t)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ar.ReadAll("no/such/file"); err != kar.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := ar.Open("no/such/file"); err != kar.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenGarbage(t *testing.T) {
	if _, err := kar.Open(bytes.NewReader([]byte("GARBAGE ARCHIVE CONTENTS PADDED WELL PAST THE HEADER"))); err != kar.ErrFileFormat {
		t.Errorf("expected ErrFileFormat, got %v", err)
	}
}
