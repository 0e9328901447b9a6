package vfat

import (
	"errors"
	"io"
	"io/fs"

	"github.com/spf13/afero"
)

// GoDirEntry is a fs.DirEntry of a FAT32 directory.
type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode {
	return g.FileInfo.Mode().Type()
}

// Info never fails, the volume cannot change while it is open.
func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.FileInfo, nil
}

// GoFile adds ReadDir to File, which makes it a fs.ReadDirFile.
type GoFile struct {
	*File
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)

	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}

	return goEntries, err
}

// GoFs wraps the afero FAT implementation to be compatible with fs.FS.
// Path validation, ReadFile, Glob and Sub are provided by afero.IOFS.
type GoFs struct {
	afero.IOFS
}

// NewGoFS opens a FAT32 volume from the given reader as fs.FS compatible filesystem.
func NewGoFS(dev io.ReaderAt, opts ...Option) (*GoFs, error) {
	fat, err := New(dev, opts...)
	if err != nil {
		return nil, err
	}

	return &GoFs{afero.NewIOFS(fat)}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	file, err := g.IOFS.Fs.Open(name)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}
