// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"testing"
	"time"
)

func TestAddAndWrite(t *testing.T) {
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Error(err)
	}
	builder.Add("test", bytes.NewReader([]byte("idunvovkjnreovmegihjbrqlkmfrjnb")))
	builder.Add("test2", bytes.NewReader([]byte("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb")))

	if len(builder.files) != 2 {
		t.Error("incorrect number of files present")
	}
	if builder.files[0].Size != int64(len("idunvovkjnreovmegihjbrqlkmfrjnb")) {
		t.Error("decompressed size not recorded correctly")
	}

	var data []byte
	buf := bytes.NewBuffer(data)
	if written, err := builder.WriteTo(buf); err != nil {
		t.Error(err)
	} else if written != int64(buf.Len()) {
		t.Errorf("reported %d written, buffer has %d", written, buf.Len())
	}

	if len(builder.files) != 0 {
		t.Error("WriteTo did not drain the builder")
	}
}

func TestHeaderFitsReservedSpace(t *testing.T) {
	header := Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
		Index: []IndexEntry{
			{Name: "models/environment/tavern.koru", Offset: 1 << 32, Size: 1 << 30, CompressedSize: 1 << 28},
			{Name: "tex.png", Offset: 300, Size: 1, CompressedSize: 1},
		},
	}

	encoded, err := gobEncode(header)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(encoded)) > header.MaxExpectedSize() {
		t.Errorf("encoded header takes %d bytes, only %d reserved", len(encoded), header.MaxExpectedSize())
	}
}

func TestHeaderSizeNumber(t *testing.T) {
	for _, num := range []int64{0, 1, 511, 1 << 40} {
		bts := int64ToBinary(num)
		if len(bts) != HeaderSizeNumberLength {
			t.Errorf("size field is %d bytes, expected %d", len(bts), HeaderSizeNumberLength)
		}
		back, err := binaryToint64(bts)
		if err != nil {
			t.Error(err)
		}
		if back != num {
			t.Errorf("got %d back, expected %d", back, num)
		}
	}
}
