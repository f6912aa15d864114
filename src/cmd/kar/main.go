// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/ponga/src/utility/kar"
	"golang.org/x/exp/mmap"
)

func defaultAuthor() string {
	if u, err := user.Current(); err == nil {
		return u.Name
	}
	return "unknown"
}

var (
	author   = flag.String("author", defaultAuthor(), "Set the author of the package when compressing")
	version  = flag.Int64("version", 1, "Archive version number to create it with")
	extract  = flag.String("e", "", "Extract the archive given")
	list     = flag.String("l", "", "List the contents of the archive given")
	compress = flag.String("c", "", "Compress the given file/folder")
	dstFile  = flag.String("f", "out.kar", "Destination file")
	silent   = flag.Bool("s", false, "Silent")
)

func main() {
	var opMade bool
	flag.Parse()

	if *extract != "" && *compress != "" {
		panic(errors.New("only one operation at a time"))
	}

	if *extract != "" {
		opMade = true
		if err := extractFiles(); err != nil {
			panic(err)
		}
	}

	if *compress != "" {
		opMade = true
		if err := compressFiles(); err != nil {
			panic(err)
		}
	}

	if *list != "" {
		opMade = true
		if err := listFiles(); err != nil {
			panic(err)
		}
	}

	if !opMade {
		flag.PrintDefaults()
	}
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	var filesToCompress []string
	if err := filepath.Walk(*compress, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}

	for _, ftc := range filesToCompress {
		f, err := os.Open(ftc)
		if err != nil {
			return err
		}
		err = karBuilder.Add(filepath.ToSlash(ftc), f)
		f.Close()
		if err != nil {
			return err
		}
		if !*silent {
			fmt.Printf("added %s\n", ftc)
		}
	}

	if _, err := karBuilder.WriteTo(dst); err != nil {
		return err
	}
	return nil
}

func extractFiles() error {
	reader, err := mmap.Open(*extract)
	if err != nil {
		return err
	}
	defer reader.Close()

	archive, err := kar.Open(reader)
	if err != nil {
		return err
	}

	for _, entry := range archive.Index() {
		target := filepath.Clean(filepath.FromSlash(entry.Name))
		if filepath.IsAbs(target) || strings.HasPrefix(target, "..") {
			return fmt.Errorf("archive entry %s escapes the working directory", entry.Name)
		}

		contents, err := archive.ReadAll(entry.Name)
		if err != nil {
			return err
		}

		if dir := filepath.Dir(target); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
		if err := ioutil.WriteFile(target, contents, 0644); err != nil {
			return err
		}
		if !*silent {
			fmt.Printf("extracted %s (%d bytes)\n", target, entry.Size)
		}
	}
	return nil
}

func listFiles() error {
	reader, err := mmap.Open(*list)
	if err != nil {
		return err
	}
	defer reader.Close()

	archive, err := kar.Open(reader)
	if err != nil {
		return err
	}

	info := archive.Info()
	fmt.Printf("author: %s, version %d, created %s\n",
		info.Author, info.Version, time.Unix(info.DateCreated, 0).Format(time.RFC1123))
	for _, entry := range archive.Index() {
		fmt.Printf("%12d  %s\n", entry.Size, entry.Name)
	}
	return nil
}
