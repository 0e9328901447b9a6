package vfat

import (
	"os"
	"time"
)

const (
	dirMode  os.FileMode = os.ModeDir | 0555
	fileMode os.FileMode = 0444

	statBlockSize = 512
)

// Stat is what the volume reports about a single path.
type Stat struct {
	// Ino is the first cluster, 0 for empty files which have none.
	Ino     uint64
	Cluster uint32
	Mode    os.FileMode
	Nlink   uint32
	Size    int64
	// Blocks counts 512 byte units.
	Blocks int64
	Uid    uint32
	Gid    uint32
	Attr   Attribute

	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

func (s Stat) IsDir() bool {
	return s.Mode.IsDir()
}

// stat builds the Stat of an entry. Missing timestamps are taken from the
// mount time.
func (v *Volume) stat(e DirEntry) Stat {
	st := Stat{
		Ino:     uint64(e.FirstCluster),
		Cluster: e.FirstCluster,
		Mode:    fileMode,
		Nlink:   1,
		Size:    int64(e.Size),
		Uid:     v.uid,
		Gid:     v.gid,
		Attr:    e.Attr,
		Mtime:   e.Modified,
		Atime:   e.Accessed,
		Ctime:   e.Created,
	}

	if e.IsDir() {
		st.Mode = dirMode
		// The size field of directories is always 0.
		st.Size = 0
	}
	st.Blocks = (st.Size + statBlockSize - 1) / statBlockSize

	if st.Mtime.IsZero() {
		st.Mtime = v.mountTime
	}
	if st.Atime.IsZero() {
		st.Atime = st.Mtime
	}
	if st.Ctime.IsZero() {
		st.Ctime = st.Mtime
	}

	return st
}

// rootStat is the synthetic Stat of the root directory which has no entry.
func (v *Volume) rootStat() Stat {
	return Stat{
		Ino:     uint64(v.geometry.RootCluster),
		Cluster: v.geometry.RootCluster,
		Mode:    dirMode,
		Nlink:   1,
		Blocks:  1,
		Uid:     v.uid,
		Gid:     v.gid,
		Attr:    AttrDirectory,
		Atime:   v.mountTime,
		Mtime:   v.mountTime,
		Ctime:   v.mountTime,
	}
}

// FileInfo adapts a Stat to os.FileInfo.
func (s Stat) FileInfo(name string) os.FileInfo {
	return statFileInfo{name: name, stat: s}
}

type statFileInfo struct {
	name string
	stat Stat
}

func (i statFileInfo) Name() string {
	return i.name
}

func (i statFileInfo) Size() int64 {
	return i.stat.Size
}

func (i statFileInfo) Mode() os.FileMode {
	return i.stat.Mode
}

func (i statFileInfo) ModTime() time.Time {
	return i.stat.Mtime
}

func (i statFileInfo) IsDir() bool {
	return i.stat.IsDir()
}

// Sys returns the Stat.
func (i statFileInfo) Sys() interface{} {
	return i.stat
}
