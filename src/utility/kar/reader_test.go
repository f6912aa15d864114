package kar_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/ponga/src/utility/kar"
	"golang.org/x/exp/mmap"
)

func writeTestArchive(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "karReader")
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	builder.Add("test/test1.txt", strings.NewReader("this is a test"))
	builder.Add("test/test2.txt", strings.NewReader("this is another test"))

	name := filepath.Join(dir, "opentest.kar")
	f, err := os.Create(name)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := builder.WriteTo(f); err != nil {
		cleanup()
		t.Fatal(err)
	}
	return name, cleanup
}

func readFileAndCompare(f *kar.Reader, expected string, t *testing.T) error {
	result := make([]byte, len(expected))
	n, err := f.Read(result)
	if err != nil {
		t.Error(err)
	}
	if n < len(expected) {
		return errors.New("incorrect number of bytes read")
	}

	if strings.Compare(string(result), expected) != 0 {
		return errors.New("test string does not match up")
	}

	return nil
}

func TestOpen(t *testing.T) {
	name, cleanup := writeTestArchive(t)
	defer cleanup()

	r, err := os.Open(name)
	if err != nil {
		t.Error(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Error(err)
	}

	t.Log(ar)
}

func TestOpenmmap(t *testing.T) {
	name, cleanup := writeTestArchive(t)
	defer cleanup()

	r, err := mmap.Open(name)
	if err != nil {
		t.Error(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Error(err)
	}

	t.Log(ar)
}

func TestOpenAndRead(t *testing.T) {
	name, cleanup := writeTestArchive(t)
	defer cleanup()

	r, err := os.Open(name)
	if err != nil {
		t.Error(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Error(err)
	}

	if f, err := ar.Open("test/test1.txt"); err != nil {
		t.Error(err)
	} else if err := readFileAndCompare(f, "this is a test", t); err != nil {
		t.Error(err)
	}

	if f, err := ar.Open("test/test2.txt"); err != nil {
		t.Error(err)
	} else if err := readFileAndCompare(f, "this is another test", t); err != nil {
		t.Error(err)
	}
}

func TestOpenAndReadAll(t *testing.T) {
	name, cleanup := writeTestArchive(t)
	defer cleanup()

	r, err := os.Open(name)
	if err != nil {
		t.Error(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Error(err)
	}

	if f, err := ar.ReadAll("test/test1.txt"); err != nil {
		t.Error(err)
	} else if strings.Compare("this is a test", string(f)) != 0 {
		t.Error(errors.New("result is not expected value"))
	}

	if f, err := ar.ReadAll("test/test2.txt"); err != nil {
		t.Error(err)
	} else if strings.Compare("this is another test", string(f)) != 0 {
		t.Error(errors.New("result is not expected value"))
	}
}

func TestOpenThroughReaderAt(t *testing.T) {
	name, cleanup := writeTestArchive(t)
	defer cleanup()

	f, err := os.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Take the file through the sequential adapter on purpose
	ar, err := kar.Open(kar.NewReaderAt(f))
	if err != nil {
		t.Fatal(err)
	}

	contents, err := ar.ReadAll("test/test2.txt")
	if err != nil {
		t.Error(err)
	}
	if strings.Compare("this is another test", string(contents)) != 0 {
		t.Error("test string does not match up")
	}
}
