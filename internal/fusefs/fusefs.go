// Package fusefs serves a vfat.Volume through FUSE.
// Every node only remembers its path. All lookups go through the volume
// again, which is immutable and therefore safe for the concurrent requests
// go-fuse dispatches.
package fusefs

import (
	"context"
	"path"
	"syscall"
	"time"

	"github.com/aligator/vfat"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// Options configure the mount.
type Options struct {
	FsName       string
	AllowOther   bool
	Debug        bool
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// Node is a file or directory of the volume.
type Node struct {
	fs.Inode

	vol  *vfat.Volume
	path string
	log  logrus.FieldLogger
}

var (
	_ fs.NodeGetattrer   = (*Node)(nil)
	_ fs.NodeLookuper    = (*Node)(nil)
	_ fs.NodeReaddirer   = (*Node)(nil)
	_ fs.NodeOpener      = (*Node)(nil)
	_ fs.NodeReader      = (*Node)(nil)
	_ fs.NodeGetxattrer  = (*Node)(nil)
	_ fs.NodeListxattrer = (*Node)(nil)
)

// NewRoot creates the root node of vol.
func NewRoot(vol *vfat.Volume, log logrus.FieldLogger) *Node {
	return &Node{
		vol:  vol,
		path: "/",
		log:  log,
	}
}

// FsOptions builds the go-fuse options for the volume.
func FsOptions(vol *vfat.Volume, opts Options) *fs.Options {
	attrTimeout := opts.AttrTimeout
	entryTimeout := opts.EntryTimeout

	return &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			FsName:     opts.FsName,
			Name:       "vfat",
			Options:    []string{"ro"},
		},
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NullPermissions: true,
		RootStableAttr: &fs.StableAttr{
			Ino: uint64(vol.Geometry().RootCluster),
		},
	}
}

// Mount serves vol at mountPoint until the returned server is unmounted.
func Mount(vol *vfat.Volume, mountPoint string, opts Options, log logrus.FieldLogger) (*fuse.Server, error) {
	log.WithFields(logrus.Fields{
		"mountPoint": mountPoint,
		"label":      vol.Label(),
	}).Info("mounting volume")

	server, err := fs.Mount(mountPoint, NewRoot(vol, log), FsOptions(vol, opts))
	if err != nil {
		log.WithError(err).Error("failed to mount volume")
		return nil, err
	}

	return server, nil
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.vol.GetAttr(n.path)
	if err != nil {
		return n.fail("getattr", err)
	}

	fillAttr(&out.Attr, st)
	return 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)

	st, err := n.vol.GetAttr(childPath)
	if err != nil {
		// Missing entries are part of normal operation.
		if vfat.Errno(err) == syscall.ENOENT {
			return nil, syscall.ENOENT
		}
		return nil, n.fail("lookup", err)
	}

	fillAttr(&out.Attr, st)

	child := &Node{vol: n.vol, path: childPath, log: n.log}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fileType(st), Ino: st.Ino}), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry

	err := n.vol.ListDir(n.path, func(name string, st vfat.Stat) bool {
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: fileType(st),
			Ino:  st.Ino,
		})
		return true
	})
	if err != nil {
		return nil, n.fail("readdir", err)
	}

	return fs.NewListDirStream(entries), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_APPEND|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}

	// The content never changes, so the kernel may keep its cache.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	// Reads past the end are no error for the kernel.
	st, err := n.vol.GetAttr(n.path)
	if err != nil {
		return nil, n.fail("read", err)
	}
	if off >= st.Size {
		return fuse.ReadResultData(nil), 0
	}

	read, err := n.vol.ReadFile(n.path, dest, off)
	if err != nil {
		return nil, n.fail("read", err)
	}

	return fuse.ReadResultData(dest[:read]), 0
}

// Getxattr answers the size query (empty dest) and returns ERANGE if dest is
// too small, as getxattr(2) requires.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, err := n.vol.GetXattr(n.path, attr)
	if err != nil {
		if vfat.Errno(err) == syscall.ENODATA {
			return 0, syscall.ENODATA
		}
		return 0, n.fail("getxattr", err)
	}

	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, err := n.vol.ListXattr(n.path)
	if err != nil {
		return 0, n.fail("listxattr", err)
	}

	var list []byte
	for _, name := range names {
		list = append(list, name...)
		list = append(list, 0)
	}

	if len(dest) < len(list) {
		return uint32(len(list)), syscall.ERANGE
	}
	return uint32(copy(dest, list)), 0
}

func (n *Node) fail(op string, err error) syscall.Errno {
	errno := vfat.Errno(err)
	entry := n.log.WithError(err).WithField("path", n.path)
	if errno == syscall.EIO {
		entry.Errorf("%v failed", op)
	} else {
		entry.Debugf("%v failed", op)
	}
	return errno
}

func fileType(st vfat.Stat) uint32 {
	if st.IsDir() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func fillAttr(a *fuse.Attr, st vfat.Stat) {
	a.Ino = st.Ino
	a.Mode = fileType(st) | uint32(st.Mode.Perm())
	a.Nlink = st.Nlink
	a.Size = uint64(st.Size)
	a.Blocks = uint64(st.Blocks)
	a.Owner = fuse.Owner{Uid: st.Uid, Gid: st.Gid}
	a.SetTimes(&st.Atime, &st.Mtime, &st.Ctime)
}
