package vfat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aligator/vfat/checkpoint"
)

// fatEntry is a single value of the FAT.
// Only the lower 28 bits are used, the upper 4 are reserved and ignored.
type fatEntry uint32

const (
	fatEntryMask = 0x0FFFFFFF
	fatEntryBad  = 0x0FFFFFF7
	// Every value from fatEntryEOC on marks the end of a chain.
	fatEntryEOC = 0x0FFFFFF8
)

func (e fatEntry) Value() uint32 {
	return uint32(e) & fatEntryMask
}

func (e fatEntry) IsFree() bool {
	return e.Value() == 0
}

// IsReserved reports the value 1 which is never a valid cluster.
func (e fatEntry) IsReserved() bool {
	return e.Value() == 1
}

func (e fatEntry) IsBad() bool {
	return e.Value() == fatEntryBad
}

func (e fatEntry) IsEOF() bool {
	return e.Value() >= fatEntryEOC
}

// IsNextCluster reports whether the entry points to another cluster.
// It does not check if that cluster exists.
func (e fatEntry) IsNextCluster() bool {
	return !e.IsFree() && !e.IsReserved() && !e.IsBad() && !e.IsEOF()
}

// Table is the in-memory copy of the active FAT.
// It is read once when the volume is opened and never modified afterwards.
type Table struct {
	entries []fatEntry
}

// fatChunkSize is how much of the FAT is read at once. A device shorter
// than its boot sector claims fails before the whole table is allocated.
const fatChunkSize = 64 * 1024

// LoadTable reads the active FAT of the volume described by g.
func LoadTable(dev io.ReaderAt, g Geometry) (*Table, error) {
	size := int64(g.FATEntries) * 4
	offset := g.ActiveFATOffset()

	var entries []fatEntry
	chunk := make([]byte, min(size, fatChunkSize))
	for read := int64(0); read < size; {
		buf := chunk[:min(size-read, int64(len(chunk)))]
		n, err := dev.ReadAt(buf, offset+read)
		if n < len(buf) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, checkpoint.Wrap(fmt.Errorf("read FAT %d at entry %d: %w", g.ActiveFAT, read/4, err), ErrIO)
		}

		for i := 0; i < len(buf); i += 4 {
			entries = append(entries, fatEntry(binary.LittleEndian.Uint32(buf[i:])))
		}
		read += int64(len(buf))
	}

	return &Table{entries: entries}, nil
}

// NewTable creates a Table directly from raw FAT values.
func NewTable(entries []uint32) *Table {
	t := &Table{entries: make([]fatEntry, len(entries))}
	for i, e := range entries {
		t.entries[i] = fatEntry(e)
	}
	return t
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entry returns the masked value stored for cluster.
// It returns false if cluster is outside the table.
func (t *Table) Entry(cluster uint32) (uint32, bool) {
	if int64(cluster) >= int64(len(t.entries)) {
		return 0, false
	}
	return t.entries[cluster].Value(), true
}

// Chain starts a walk over the cluster chain which begins at first.
func (t *Table) Chain(first uint32) *ChainWalker {
	return &ChainWalker{
		table: t,
		next:  first,
		limit: len(t.entries),
	}
}

// Clusters collects the whole chain beginning at first.
func (t *Table) Clusters(first uint32) ([]uint32, error) {
	var clusters []uint32
	w := t.Chain(first)
	for w.Next() {
		clusters = append(clusters, w.Cluster())
	}
	return clusters, w.Err()
}

// ChainWalker follows a cluster chain one cluster at a time:
//
//	w := table.Chain(first)
//	for w.Next() {
//		use(w.Cluster())
//	}
//	if err := w.Err(); err != nil {
//		...
//	}
//
// The walk stops with ErrCorruptChain as soon as the chain references a
// cluster which cannot be part of a chain, or once it made more steps than
// the table has entries, which only happens for cycles.
type ChainWalker struct {
	table *Table

	current uint32
	next    uint32
	done    bool
	broken  error
	steps   int
	limit   int
	err     error
}

// Next advances to the next cluster. It returns false at the end of the
// chain or on error.
// A cluster whose FAT entry is unusable is still returned, the error is
// reported by the following call.
func (w *ChainWalker) Next() bool {
	if w.done {
		return false
	}
	if w.broken != nil {
		return w.fail(w.broken)
	}

	cluster := w.next
	if cluster < 2 || int64(cluster) >= int64(len(w.table.entries)) {
		return w.fail(fmt.Errorf("cluster %d is outside of the FAT (%d entries)", cluster, len(w.table.entries)))
	}

	w.steps++
	if w.steps > w.limit {
		return w.fail(fmt.Errorf("chain is longer than %d clusters", w.limit))
	}

	entry := w.table.entries[cluster]
	switch {
	case entry.IsEOF():
		// The current cluster is still valid, only the walk ends after it.
		w.done = true
	case entry.IsFree():
		w.broken = fmt.Errorf("cluster %d links to a free cluster", cluster)
	case entry.IsReserved():
		w.broken = fmt.Errorf("cluster %d links to a reserved cluster", cluster)
	case entry.IsBad():
		w.broken = fmt.Errorf("cluster %d links to a bad cluster", cluster)
	default:
		w.next = entry.Value()
	}

	w.current = cluster
	return true
}

// Cluster returns the cluster the last call to Next advanced to.
func (w *ChainWalker) Cluster() uint32 {
	return w.current
}

// Err returns the error which stopped the walk, if any.
func (w *ChainWalker) Err() error {
	return w.err
}

func (w *ChainWalker) fail(err error) bool {
	w.done = true
	w.err = checkpoint.Wrap(err, ErrCorruptChain)
	return false
}

// Usage counts the free, used and bad data clusters of a volume with
// clusterCount clusters.
func (t *Table) Usage(clusterCount uint32) (free, used, bad uint32) {
	end := int64(clusterCount) + 2
	if end > int64(len(t.entries)) {
		end = int64(len(t.entries))
	}
	if end <= 2 {
		return 0, 0, 0
	}

	for _, entry := range t.entries[2:end] {
		switch {
		case entry.IsFree():
			free++
		case entry.IsBad():
			bad++
		case entry.IsNextCluster(), entry.IsEOF():
			used++
		}
	}
	return free, used, bad
}
