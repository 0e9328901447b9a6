package vfat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// The synthetic test volume uses the smallest layout which still counts as
// FAT32: 512 byte sectors, one sector per cluster and two FATs.
const (
	testSectorSize   = 512
	testReserved     = 32
	testFATSectors   = 520
	testClusters     = 66000
	testTotalSectors = testReserved + 2*testFATSectors + testClusters
	testRootCluster  = 2

	testDataOffset = (testReserved + 2*testFATSectors) * testSectorSize
)

// 2021-03-04 10:20:30 in FAT encoding.
const (
	testDate  uint16 = (2021-1980)<<9 | 3<<5 | 4
	testClock uint16 = 10<<11 | 20<<5 | 30/2
)

var (
	testTime      = time.Date(2021, 3, 4, 10, 20, 30, 0, time.UTC)
	testMountTime = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
)

// testImage is a sparse in-memory disk. Sectors never written read as zero.
type testImage struct {
	size    int64
	sectors map[int64][]byte
}

func newTestImage(size int64) *testImage {
	return &testImage{
		size:    size,
		sectors: make(map[int64][]byte),
	}
}

func (img *testImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= img.size {
		return 0, io.EOF
	}

	n := len(p)
	if rest := img.size - off; int64(n) > rest {
		n = int(rest)
	}

	for done := 0; done < n; {
		pos := off + int64(done)
		sector, within := pos/testSectorSize, int(pos%testSectorSize)
		chunk := min(n-done, testSectorSize-within)

		if data, ok := img.sectors[sector]; ok {
			copy(p[done:done+chunk], data[within:])
		} else {
			clear(p[done : done+chunk])
		}
		done += chunk
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// write panics if data does not fit, that is always a bug in the test.
func (img *testImage) write(off int64, data []byte) {
	if off < 0 || off+int64(len(data)) > img.size {
		panic(fmt.Sprintf("write of %d bytes at %d outside of the image", len(data), off))
	}

	for done := 0; done < len(data); {
		pos := off + int64(done)
		sector, within := pos/testSectorSize, int(pos%testSectorSize)
		chunk := min(len(data)-done, testSectorSize-within)

		buf, ok := img.sectors[sector]
		if !ok {
			buf = make([]byte, testSectorSize)
			img.sectors[sector] = buf
		}
		copy(buf[within:], data[done:done+chunk])
		done += chunk
	}
}

// testEntry describes one short directory entry and its optional long name.
type testEntry struct {
	long    string
	short   string
	attr    Attribute
	nt      byte
	cluster uint32
	size    uint32
}

func (e testEntry) raw() []byte {
	name := packShortName(e.short)

	var out []byte
	if e.long != "" {
		out = append(out, lfnSlots(e.long, lfnChecksum(name))...)
	}
	return append(out, shortSlot(name, e.attr, e.nt, e.cluster, e.size)...)
}

// packShortName converts "NAME.EXT" into the padded 11 byte form.
func packShortName(short string) [11]byte {
	var name [11]byte
	copy(name[:], strings.Repeat(" ", 11))

	if short == "." || short == ".." {
		copy(name[:], short)
		return name
	}

	base, ext := short, ""
	if i := strings.LastIndex(short, "."); i >= 0 {
		base, ext = short[:i], short[i+1:]
	}
	copy(name[:8], base)
	copy(name[8:], ext)
	return name
}

func shortSlot(name [11]byte, attr Attribute, nt byte, cluster, size uint32) []byte {
	le := binary.LittleEndian

	s := make([]byte, entrySize)
	copy(s, name[:])
	s[11] = byte(attr)
	s[12] = nt
	s[13] = 100 // One second in hundredths.
	le.PutUint16(s[14:], testClock)
	le.PutUint16(s[16:], testDate)
	le.PutUint16(s[18:], testDate)
	le.PutUint16(s[20:], uint16(cluster>>16))
	le.PutUint16(s[22:], testClock)
	le.PutUint16(s[24:], testDate)
	le.PutUint16(s[26:], uint16(cluster))
	le.PutUint32(s[28:], size)
	return s
}

// lfnSlots encodes long as fragments in on-disk order, the last one first.
func lfnSlots(long string, checksum byte) []byte {
	le := binary.LittleEndian

	units := utf16.Encode([]rune(long))
	count := (len(units) + lfnChars - 1) / lfnChars
	if len(units)%lfnChars != 0 {
		units = append(units, 0x0000)
		for len(units)%lfnChars != 0 {
			units = append(units, 0xFFFF)
		}
	}

	var out []byte
	for ordinal := count; ordinal >= 1; ordinal-- {
		s := make([]byte, entrySize)
		s[0] = byte(ordinal)
		if ordinal == count {
			s[0] |= lfnLast
		}
		s[11] = byte(AttrLongName)
		s[13] = checksum

		part := units[(ordinal-1)*lfnChars : ordinal*lfnChars]
		for i := 0; i < 5; i++ {
			le.PutUint16(s[1+2*i:], part[i])
		}
		for i := 0; i < 6; i++ {
			le.PutUint16(s[14+2*i:], part[5+i])
		}
		for i := 0; i < 2; i++ {
			le.PutUint16(s[28+2*i:], part[11+i])
		}
		out = append(out, s...)
	}
	return out
}

func labelSlot(label string) []byte {
	var name [11]byte
	copy(name[:], fmt.Sprintf("%-11s", label))
	return shortSlot(name, AttrVolumeID|AttrArchive, 0, 0, 0)
}

type testDir struct {
	cluster uint32
	slots   []byte
}

func (d *testDir) add(e testEntry) {
	d.slots = append(d.slots, e.raw()...)
}

func (d *testDir) addRaw(slots ...[]byte) {
	for _, s := range slots {
		d.slots = append(d.slots, s...)
	}
}

// imageBuilder assembles a synthetic FAT32 volume in memory.
type imageBuilder struct {
	img  *testImage
	fat  []uint32
	used map[uint32]bool
	next uint32

	root *testDir
	dirs []*testDir

	// patches are applied to the FAT after all chains are linked.
	patches map[uint32]uint32

	extFlags uint16
	bpbLabel string
}

func newImageBuilder() *imageBuilder {
	b := &imageBuilder{
		img:      newTestImage(testTotalSectors * testSectorSize),
		fat:      make([]uint32, testFATSectors*testSectorSize/4),
		used:     map[uint32]bool{0: true, 1: true},
		next:     2,
		patches:  make(map[uint32]uint32),
		bpbLabel: "BPBLABEL",
	}
	b.fat[0] = 0x0FFFFFF8
	b.fat[1] = 0x0FFFFFFF

	b.root = b.newDir()
	return b
}

func (b *imageBuilder) alloc() uint32 {
	for b.used[b.next] {
		b.next++
	}
	c := b.next
	b.used[c] = true
	return c
}

// reserve keeps clusters away from the allocator.
func (b *imageBuilder) reserve(clusters ...uint32) {
	for _, c := range clusters {
		b.used[c] = true
	}
}

// link chains the clusters in the given order, the last one ends the chain.
func (b *imageBuilder) link(clusters ...uint32) {
	b.reserve(clusters...)
	for i, c := range clusters {
		if i+1 < len(clusters) {
			b.fat[c] = clusters[i+1]
		} else {
			b.fat[c] = 0x0FFFFFFF
		}
	}
}

func (b *imageBuilder) patchFAT(cluster, value uint32) {
	b.patches[cluster] = value
}

func (b *imageBuilder) writeCluster(cluster uint32, data []byte) {
	b.img.write(testDataOffset+int64(cluster-2)*testSectorSize, data)
}

func (b *imageBuilder) newDir() *testDir {
	d := &testDir{cluster: b.alloc()}
	b.dirs = append(b.dirs, d)
	return d
}

// mkdir adds a subdirectory including its "." and ".." entries.
func (b *imageBuilder) mkdir(parent *testDir, long, short string) *testDir {
	d := b.newDir()

	parentCluster := parent.cluster
	if parent == b.root {
		parentCluster = 0
	}
	d.add(testEntry{short: ".", attr: AttrDirectory, cluster: d.cluster})
	d.add(testEntry{short: "..", attr: AttrDirectory, cluster: parentCluster})

	parent.add(testEntry{long: long, short: short, attr: AttrDirectory, cluster: d.cluster})
	return d
}

// file stores content in freshly allocated clusters and returns the first
// one, 0 for empty files.
func (b *imageBuilder) file(parent *testDir, long, short string, content []byte) uint32 {
	var clusters []uint32
	for off := 0; off < len(content); off += testSectorSize {
		c := b.alloc()
		clusters = append(clusters, c)
		b.writeCluster(c, content[off:min(off+testSectorSize, len(content))])
	}

	var first uint32
	if len(clusters) > 0 {
		b.link(clusters...)
		first = clusters[0]
	}

	parent.add(testEntry{long: long, short: short, attr: AttrArchive, cluster: first, size: uint32(len(content))})
	return first
}

// withHugeFAT turns a boot sector into one of 4 KiB sectors whose FAT claims
// almost 16 GiB while only about 33 million clusters fit the volume.
func withHugeFAT(s []byte) []byte {
	le := binary.LittleEndian
	le.PutUint16(s[11:], 4096)
	s[13] = 128
	le.PutUint32(s[32:], 0xFFFFFFFF)
	le.PutUint32(s[36:], 0x003FFFFF)
	return s
}

func (b *imageBuilder) bootSector() []byte {
	fat32 := FAT32SpecificData{
		FatSize:         testFATSectors,
		ExtFlags:        b.extFlags,
		RootCluster:     testRootCluster,
		FSInfo:          1,
		BkBootSector:    6,
		BSDriveNumber:   0x80,
		BSBootSignature: extendedBootSignature,
		BSVolumeID:      0x1234ABCD,
	}
	copy(fat32.BSVolumeLabel[:], fmt.Sprintf("%-11s", b.bpbLabel))
	copy(fat32.BSFileSystemType[:], "FAT32   ")

	var specific bytes.Buffer
	if err := binary.Write(&specific, binary.LittleEndian, fat32); err != nil {
		panic(err)
	}

	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:      testSectorSize,
		SectorsPerCluster:   1,
		ReservedSectorCount: testReserved,
		NumFATs:             2,
		Media:               0xF8,
		TotalSectors32:      testTotalSectors,
	}
	copy(bpb.BSOEMName[:], "MSWIN4.1")
	copy(bpb.FATSpecificData[:], specific.Bytes())

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, bpb); err != nil {
		panic(err)
	}

	sector := make([]byte, bootSectorSize)
	copy(sector, buf.Bytes())
	sector[510], sector[511] = 0x55, 0xAA
	return sector
}

func testFATOffset(fat int) int64 {
	return int64(testReserved+fat*testFATSectors) * testSectorSize
}

// build writes the directories, the boot sector and both FATs.
// It must only be called once.
func (b *imageBuilder) build() *testImage {
	for _, d := range b.dirs {
		clusters := []uint32{d.cluster}
		for len(clusters)*testSectorSize < len(d.slots) {
			clusters = append(clusters, b.alloc())
		}
		b.link(clusters...)

		for i, c := range clusters {
			from := min(i*testSectorSize, len(d.slots))
			to := min((i+1)*testSectorSize, len(d.slots))
			b.writeCluster(c, d.slots[from:to])
		}
	}

	for cluster, value := range b.patches {
		b.fat[cluster] = value
	}

	b.img.write(0, b.bootSector())

	raw := make([]byte, len(b.fat)*4)
	for i, e := range b.fat {
		binary.LittleEndian.PutUint32(raw[i*4:], e)
	}
	b.img.write(testFATOffset(0), raw)
	b.img.write(testFATOffset(1), raw)

	return b.img
}

func (b *imageBuilder) open(t *testing.T, opts ...Option) *Volume {
	t.Helper()

	log, _ := test.NewNullLogger()
	opts = append([]Option{
		WithMountTime(testMountTime),
		WithOwner(1000, 100),
		WithLogger(log),
	}, opts...)

	vol, err := Open(b.build(), opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return vol
}

// testPattern returns size bytes which differ in every position of a cluster.
func testPattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// testTree is the volume most tests run against:
//
//	/                      label TESTVOL
//	/A long file name.txt  1500 bytes in 3 clusters
//	/README                "read me\n"
//	/empty.txt             no cluster
//	/dir1/dir2/file.txt    "file content\n"
//
// A deleted entry sits between README and empty.txt.
type testTree struct {
	*imageBuilder

	longFile    uint32
	longContent []byte
	readme      uint32
	dir1        *testDir
	dir2        *testDir
	fileTxt     uint32
}

func newTestTree() *testTree {
	b := newImageBuilder()
	tree := &testTree{imageBuilder: b}

	b.root.addRaw(labelSlot("TESTVOL"))

	tree.longContent = testPattern(1500)
	tree.longFile = b.file(b.root, "A long file name.txt", "ALONGF~1.TXT", tree.longContent)
	tree.readme = b.file(b.root, "", "README", []byte("read me\n"))

	deleted := shortSlot(packShortName("GONE.TXT"), AttrArchive, 0, 0, 0)
	deleted[0] = entryDeleted
	b.root.addRaw(deleted)

	// Lower case flags for base and extension.
	b.root.add(testEntry{short: "EMPTY.TXT", attr: AttrArchive, nt: ntLowerBase | ntLowerExtension})

	tree.dir1 = b.mkdir(b.root, "dir1", "DIR1")
	tree.dir2 = b.mkdir(tree.dir1, "dir2", "DIR2")
	tree.fileTxt = b.file(tree.dir2, "file.txt", "FILE.TXT", []byte("file content\n"))

	return tree
}

// newTestLogger returns a logger whose entries can be inspected.
func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}
