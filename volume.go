package vfat

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aligator/vfat/checkpoint"
	"github.com/sirupsen/logrus"
)

// maxDirSlots is the number of 32 byte slots a FAT directory may have.
const maxDirSlots = 65536

// XattrCluster is the only extended attribute. Its value is the first
// cluster of the entry in decimal. Linux only passes namespaced names, so it
// is also answered with the "user." prefix.
const (
	XattrCluster     = "debug.cluster"
	XattrUserCluster = "user." + XattrCluster
)

// Option configures a Volume.
type Option func(v *Volume)

// WithOwner sets the owner reported for every file.
func WithOwner(uid, gid uint32) Option {
	return func(v *Volume) {
		v.uid = uid
		v.gid = gid
	}
}

// WithMountTime sets the time reported for the root and for entries without
// timestamps. It defaults to the time Open was called.
func WithMountTime(t time.Time) Option {
	return func(v *Volume) {
		v.mountTime = t
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(v *Volume) {
		v.log = log
	}
}

// Volume is an opened, read-only FAT32 volume.
// All fields are set by Open and never change afterwards, so a Volume can be
// used from many goroutines at once as long as dev supports concurrent ReadAt.
type Volume struct {
	dev      io.ReaderAt
	geometry Geometry
	table    *Table
	label    string

	uid       uint32
	gid       uint32
	mountTime time.Time

	log logrus.FieldLogger
}

// Resolved is the result of a path lookup.
type Resolved struct {
	// Entry is the zero value for the root directory.
	Entry DirEntry
	Stat  Stat
	Root  bool
}

// Open reads the boot sector and the FAT of dev.
// It fails with ErrInvalidVolume if dev does not contain a FAT32 volume.
func Open(dev io.ReaderAt, opts ...Option) (*Volume, error) {
	v := &Volume{
		dev:       dev,
		mountTime: time.Now(),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	bootSector := make([]byte, bootSectorSize)
	n, err := dev.ReadAt(bootSector, 0)
	if n < bootSectorSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, checkpoint.Wrap(fmt.Errorf("read boot sector: %w", err), ErrInvalidVolume)
	}

	v.geometry, err = ParseGeometry(bootSector)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	v.table, err = LoadTable(dev, v.geometry)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrInvalidVolume)
	}

	v.label = v.geometry.Label
	if label, err := v.rootLabel(); err != nil {
		v.log.WithError(err).Warn("could not read the volume label from the root directory")
	} else if label != "" && label != noLabel {
		v.label = label
	}

	v.log.WithFields(logrus.Fields{
		"label":       v.label,
		"clusters":    v.geometry.ClusterCount,
		"clusterSize": v.geometry.ClusterSize,
		"activeFAT":   v.geometry.ActiveFAT,
	}).Debug("opened FAT32 volume")

	return v, nil
}

func (v *Volume) Geometry() Geometry {
	return v.geometry
}

func (v *Volume) Table() *Table {
	return v.table
}

// Label returns the volume label of the root directory or, if there is none,
// the one from the boot sector.
func (v *Volume) Label() string {
	return v.label
}

// Resolve looks up a slash separated path starting at the root directory.
func (v *Volume) Resolve(path string) (Resolved, error) {
	log := v.log.WithField("path", path)

	root := Resolved{Root: true, Stat: v.rootStat()}
	current := root

	for _, part := range splitPath(path) {
		if !current.Root && !current.Entry.IsDir() {
			return Resolved{}, checkpoint.Wrap(fmt.Errorf("%v is a file: %v", current.Entry.Name, path), ErrNotADirectory)
		}

		// The root has no ".." entry on disk.
		if part == ".." && current.Root {
			continue
		}

		entries, err := v.entries(v.dirCluster(current))
		if err != nil {
			return Resolved{}, checkpoint.From(err)
		}

		entry, ok := findEntry(entries, part)
		if !ok {
			return Resolved{}, checkpoint.Wrap(fmt.Errorf("%v not found: %v", part, path), ErrNotFound)
		}
		log.WithField("cluster", entry.FirstCluster).Debugf("resolved %v", part)

		// ".." of a directory directly below the root stores cluster 0.
		if entry.ShortName == ".." && (entry.FirstCluster == 0 || entry.FirstCluster == v.geometry.RootCluster) {
			current = root
			continue
		}
		if entry.IsDir() && entry.FirstCluster < 2 {
			return Resolved{}, checkpoint.Wrap(fmt.Errorf("directory %v starts at cluster %d: %v", entry.Name, entry.FirstCluster, path), ErrCorruptChain)
		}

		current = Resolved{Entry: entry, Stat: v.stat(entry)}
	}

	return current, nil
}

// GetAttr returns the Stat of path.
func (v *Volume) GetAttr(path string) (Stat, error) {
	resolved, err := v.Resolve(path)
	if err != nil {
		return Stat{}, checkpoint.From(err)
	}
	return resolved.Stat, nil
}

// ReadDir calls visit for every live entry of the directory starting at
// cluster, including "." and "..". off is the byte offset of the entry in
// the directory. It stops as soon as visit returns false.
func (v *Volume) ReadDir(cluster uint32, visit func(name string, st Stat, off int64) bool) error {
	entries, err := v.entries(cluster)
	if err != nil {
		return checkpoint.From(err)
	}

	for _, e := range entries {
		if !visit(e.Name, v.stat(e), e.Offset) {
			return nil
		}
	}
	return nil
}

// ListDir calls visit for every entry of the directory at path except "."
// and "..".
func (v *Volume) ListDir(path string, visit func(name string, st Stat) bool) error {
	resolved, err := v.Resolve(path)
	if err != nil {
		return checkpoint.From(err)
	}
	if !resolved.Stat.IsDir() {
		return checkpoint.Wrap(fmt.Errorf("list %v", path), ErrNotADirectory)
	}

	entries, err := v.entries(v.dirCluster(resolved))
	if err != nil {
		return checkpoint.From(err)
	}

	for _, e := range entries {
		if e.IsDotEntry() {
			continue
		}
		if !visit(e.Name, v.stat(e)) {
			return nil
		}
	}
	return nil
}

// Entries returns the decoded entries of the directory at path without
// "." and "..".
func (v *Volume) Entries(path string) ([]DirEntry, error) {
	var entries []DirEntry

	resolved, err := v.Resolve(path)
	if err != nil {
		return nil, checkpoint.From(err)
	}
	if !resolved.Stat.IsDir() {
		return nil, checkpoint.Wrap(fmt.Errorf("list %v", path), ErrNotADirectory)
	}

	all, err := v.entries(v.dirCluster(resolved))
	if err != nil {
		return nil, checkpoint.From(err)
	}
	for _, e := range all {
		if !e.IsDotEntry() {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Read reads up to len(p) bytes of the file entry starting at off.
// It returns fewer bytes, without error, only at the end of the file.
// If the cluster chain is shorter than the file size, the bytes read so far
// are returned together with ErrCorruptChain.
func (v *Volume) Read(entry DirEntry, p []byte, off int64) (int, error) {
	if entry.IsDir() {
		return 0, checkpoint.Wrap(fmt.Errorf("%v is a directory", entry.Name), ErrInvalidArgument)
	}

	size := int64(entry.Size)
	if off < 0 || off > size {
		return 0, checkpoint.Wrap(fmt.Errorf("offset %d outside of [0, %d]", off, size), ErrInvalidArgument)
	}

	length := int64(len(p))
	if length > size-off {
		length = size - off
	}
	if length == 0 {
		return 0, nil
	}

	clusterSize := v.geometry.ClusterSize
	skip := off / clusterSize
	within := off % clusterSize

	var done int64
	var index int64
	w := v.table.Chain(entry.FirstCluster)
	for done < length && w.Next() {
		if index < skip {
			index++
			continue
		}
		index++

		chunk := clusterSize - within
		if chunk > length-done {
			chunk = length - done
		}

		err := v.readCluster(w.Cluster(), within, p[done:done+chunk])
		if err != nil {
			return int(done), checkpoint.From(err)
		}

		done += chunk
		within = 0
	}

	if err := w.Err(); err != nil {
		return int(done), checkpoint.From(err)
	}
	if done < length {
		return int(done), checkpoint.Wrap(fmt.Errorf("chain of %v ends after %d of %d bytes", entry.Name, off+done, size), ErrCorruptChain)
	}

	return int(done), nil
}

// ReadFile resolves path and reads from the file like Read.
func (v *Volume) ReadFile(path string, p []byte, off int64) (int, error) {
	resolved, err := v.Resolve(path)
	if err != nil {
		return 0, checkpoint.From(err)
	}
	if resolved.Root {
		return 0, checkpoint.Wrap(fmt.Errorf("/ is a directory"), ErrInvalidArgument)
	}

	n, err := v.Read(resolved.Entry, p, off)
	return n, checkpoint.From(err)
}

// GetXattr returns the value of the extended attribute name of path.
func (v *Volume) GetXattr(path string, name string) (string, error) {
	if name != XattrCluster && name != XattrUserCluster {
		return "", checkpoint.Wrap(fmt.Errorf("attribute %v", name), ErrNoAttribute)
	}

	st, err := v.GetAttr(path)
	if err != nil {
		return "", checkpoint.From(err)
	}

	return strconv.FormatUint(uint64(st.Cluster), 10), nil
}

// ListXattr returns the names GetXattr answers for.
func (v *Volume) ListXattr(path string) ([]string, error) {
	if _, err := v.Resolve(path); err != nil {
		return nil, checkpoint.From(err)
	}
	return []string{XattrUserCluster}, nil
}

func (v *Volume) dirCluster(r Resolved) uint32 {
	if r.Root {
		return v.geometry.RootCluster
	}
	return r.Entry.FirstCluster
}

// entries decodes all live entries of the directory starting at cluster.
func (v *Volume) entries(cluster uint32) ([]DirEntry, error) {
	raw, err := v.readDirectory(cluster)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	var entries []DirEntry
	scanner := newDirScanner(raw, v.log.WithField("cluster", cluster))
	for scanner.Next() {
		entries = append(entries, scanner.Entry())
	}
	return entries, nil
}

func (v *Volume) rootLabel() (string, error) {
	raw, err := v.readDirectory(v.geometry.RootCluster)
	if err != nil {
		return "", checkpoint.From(err)
	}

	scanner := newDirScanner(raw, v.log)
	for scanner.Next() {
	}
	return scanner.Label(), nil
}

// readDirectory reads the whole cluster chain of a directory.
func (v *Volume) readDirectory(cluster uint32) ([]byte, error) {
	clusterSize := v.geometry.ClusterSize
	limit := int64(maxDirSlots * entrySize)

	var raw []byte
	w := v.table.Chain(cluster)
	for w.Next() {
		if int64(len(raw))+clusterSize > limit {
			return nil, checkpoint.Wrap(fmt.Errorf("directory at cluster %d has more than %d entries", cluster, maxDirSlots), ErrCorruptChain)
		}

		start := len(raw)
		raw = append(raw, make([]byte, clusterSize)...)
		err := v.readCluster(w.Cluster(), 0, raw[start:])
		if err != nil {
			return nil, checkpoint.From(err)
		}

		// Nothing after the end marker belongs to the directory.
		if endsDirectory(raw[start:]) {
			break
		}
	}

	if err := w.Err(); err != nil {
		return nil, checkpoint.From(err)
	}
	return raw, nil
}

func endsDirectory(cluster []byte) bool {
	for i := 0; i+entrySize <= len(cluster); i += entrySize {
		if cluster[i] == entryEnd {
			return true
		}
	}
	return false
}

// readCluster reads len(p) bytes of cluster starting at offset within it.
func (v *Volume) readCluster(cluster uint32, offset int64, p []byte) error {
	start, err := v.geometry.ClusterOffset(cluster)
	if err != nil {
		return checkpoint.From(err)
	}

	n, err := v.dev.ReadAt(p, start+offset)
	if n < len(p) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return checkpoint.Wrap(fmt.Errorf("read cluster %d at %d: %w", cluster, start+offset, err), ErrIO)
	}
	return nil
}
