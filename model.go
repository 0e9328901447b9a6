// File model contains the structs which match the on-disk structures of a FAT32 volume.

package vfat

import "encoding/binary"

// Attribute is the attribute byte of a directory entry.
type Attribute uint8

const (
	AttrReadOnly  Attribute = 0x01
	AttrHidden    Attribute = 0x02
	AttrSystem    Attribute = 0x04
	AttrVolumeID  Attribute = 0x08
	AttrDirectory Attribute = 0x10
	AttrArchive   Attribute = 0x20

	// AttrLongName marks a long filename fragment. It has to be compared
	// against the low six bits, not tested as a mask.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	bootSectorSize = 512
	entrySize      = 32

	// lfnLast is set on the ordinal of the last (physically first) fragment.
	lfnLast        = 0x40
	lfnOrdinalMask = 0x3F
	lfnChars       = 13

	entryEnd     = 0x00
	entryDeleted = 0xE5
	// entryKanji is stored in place of a leading 0xE5 of a real name.
	entryKanji = 0x05

	// NT reserved byte flags for lower case 8.3 names.
	ntLowerBase      = 0x08
	ntLowerExtension = 0x10
)

// BPB is the BIOS Parameter Block common to all FAT variants.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

// FAT32SpecificData is the FAT32 extension stored in BPB.FATSpecificData.
type FAT32SpecificData struct {
	FatSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// EntryHeader is a short (8.3) directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       Attribute
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// FirstCluster joins the high and low cluster words.
func (h EntryHeader) FirstCluster() uint32 {
	return uint32(h.FirstClusterHI)<<16 | uint32(h.FirstClusterLO)
}

// LongFilenameEntry is one fragment of a long filename.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute Attribute
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// units returns the 13 UTF-16 code units in on-disk order.
func (l LongFilenameEntry) units() [lfnChars]uint16 {
	var u [lfnChars]uint16
	n := copy(u[:], l.First[:])
	n += copy(u[n:], l.Second[:])
	copy(u[n:], l.Third[:])
	return u
}

func decodeEntryHeader(b []byte) EntryHeader {
	_ = b[entrySize-1]

	var h EntryHeader
	copy(h.Name[:], b[0:11])
	h.Attribute = Attribute(b[11])
	h.NTReserved = b[12]
	h.CreateTimeTenth = b[13]
	h.CreateTime = binary.LittleEndian.Uint16(b[14:])
	h.CreateDate = binary.LittleEndian.Uint16(b[16:])
	h.LastAccessDate = binary.LittleEndian.Uint16(b[18:])
	h.FirstClusterHI = binary.LittleEndian.Uint16(b[20:])
	h.WriteTime = binary.LittleEndian.Uint16(b[22:])
	h.WriteDate = binary.LittleEndian.Uint16(b[24:])
	h.FirstClusterLO = binary.LittleEndian.Uint16(b[26:])
	h.FileSize = binary.LittleEndian.Uint32(b[28:])
	return h
}

func decodeLongFilenameEntry(b []byte) LongFilenameEntry {
	_ = b[entrySize-1]

	var l LongFilenameEntry
	l.Sequence = b[0]
	for i := range l.First {
		l.First[i] = binary.LittleEndian.Uint16(b[1+2*i:])
	}
	l.Attribute = Attribute(b[11])
	l.EntryType = b[12]
	l.Checksum = b[13]
	for i := range l.Second {
		l.Second[i] = binary.LittleEndian.Uint16(b[14+2*i:])
	}
	copy(l.Zero[:], b[26:28])
	for i := range l.Third {
		l.Third[i] = binary.LittleEndian.Uint16(b[28+2*i:])
	}
	return l
}
