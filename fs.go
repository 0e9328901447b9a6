package vfat

import (
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/aligator/vfat/checkpoint"
	"github.com/spf13/afero"
)

const readOnlyFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// Fs is a read-only afero.Fs on top of a Volume.
type Fs struct {
	vol *Volume
}

// New opens the FAT32 volume of dev as afero.Fs.
func New(dev io.ReaderAt, opts ...Option) (*Fs, error) {
	vol, err := Open(dev, opts...)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	return NewFs(vol), nil
}

// NewFs wraps an already opened volume.
func NewFs(vol *Volume) *Fs {
	return &Fs{vol: vol}
}

func (fs *Fs) Volume() *Volume {
	return fs.vol
}

// Label returns the volume label.
func (fs *Fs) Label() string {
	return fs.vol.Label()
}

func (fs *Fs) readFileAt(cluster uint32, fileSize int64, offset int64, readSize int64) ([]byte, error) {
	entry := DirEntry{
		FirstCluster: cluster,
		Size:         uint32(fileSize),
	}

	data := make([]byte, readSize)
	n, err := fs.vol.Read(entry, data, offset)
	return data[:n], checkpoint.From(err)
}

func (fs *Fs) readDir(p string) ([]os.FileInfo, error) {
	entries, err := fs.vol.Entries(p)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	content := make([]os.FileInfo, len(entries))
	for i, e := range entries {
		content[i] = fs.vol.stat(e).FileInfo(e.Name)
	}
	return content, nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	resolved, err := fs.vol.Resolve(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	return newFile(fs, path.Clean("/"+name), resolved.Stat, displayName(name, resolved)), nil
}

// displayName is the name reported for a resolved path. Dot entries are
// named after the directory they lead to.
func displayName(name string, resolved Resolved) string {
	switch {
	case resolved.Root:
		return "/"
	case resolved.Entry.IsDotEntry():
		return path.Base(path.Clean("/" + name))
	}
	return resolved.Entry.Name
}

// OpenFile opens name read-only. Any flag which would write fails with
// ErrReadOnly.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&readOnlyFlags != 0 {
		return nil, pathError("open", name, ErrReadOnly)
	}
	return fs.Open(name)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	resolved, err := fs.vol.Resolve(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}

	return resolved.Stat.FileInfo(displayName(name, resolved)), nil
}

func (fs *Fs) Name() string {
	return "vfat"
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, pathError("create", name, ErrReadOnly)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return pathError("mkdir", name, ErrReadOnly)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return pathError("mkdir", path, ErrReadOnly)
}

func (fs *Fs) Remove(name string) error {
	return pathError("remove", name, ErrReadOnly)
}

func (fs *Fs) RemoveAll(path string) error {
	return pathError("remove", path, ErrReadOnly)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return pathError("rename", oldname, ErrReadOnly)
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, ErrReadOnly)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return pathError("chown", name, ErrReadOnly)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, ErrReadOnly)
}

// pathError wraps err like the os package does. A missing file also
// satisfies os.ErrNotExist, so io/fs and afero helpers recognize it.
func pathError(op, name string, err error) error {
	if errors.Is(err, ErrNotFound) {
		err = checkpoint.Wrap(err, os.ErrNotExist)
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}
