package vfat

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// maxLFNFragments is the number of fragments needed for the longest
// allowed name of 255 characters.
const maxLFNFragments = 20

// DirEntry is a decoded short directory entry together with its long name.
type DirEntry struct {
	// Name is the long name if a valid one precedes the entry, the rendered
	// short name otherwise.
	Name      string
	ShortName string

	Attr         Attribute
	FirstCluster uint32
	Size         uint32

	Created  time.Time
	Modified time.Time
	Accessed time.Time

	// Offset is the byte offset of the short entry inside the directory.
	Offset int64
}

func (e DirEntry) IsDir() bool {
	return e.Attr&AttrDirectory != 0
}

// IsDotEntry reports the "." and ".." entries every subdirectory contains.
func (e DirEntry) IsDotEntry() bool {
	return e.ShortName == "." || e.ShortName == ".."
}

// dirScanner decodes the raw bytes of a directory slot by slot.
// It never modifies buf.
type dirScanner struct {
	buf []byte
	log logrus.FieldLogger

	pos   int
	end   bool
	entry DirEntry
	label string

	lfn lfnBuffer
}

func newDirScanner(buf []byte, log logrus.FieldLogger) *dirScanner {
	return &dirScanner{
		buf: buf,
		log: log,
	}
}

// Reset restarts the scan at the first slot.
func (s *dirScanner) Reset() {
	s.pos = 0
	s.end = false
	s.entry = DirEntry{}
	s.label = ""
	s.lfn.reset()
}

// Next advances to the next live entry.
// Deleted slots, long name fragments and volume labels are consumed silently.
func (s *dirScanner) Next() bool {
	for !s.end && s.pos+entrySize <= len(s.buf) {
		offset := s.pos
		slot := s.buf[offset : offset+entrySize]
		s.pos += entrySize

		switch slot[0] {
		case entryEnd:
			s.end = true
			return false
		case entryDeleted:
			s.lfn.reset()
			continue
		}

		attr := Attribute(slot[11])
		if attr&0x3F == AttrLongName {
			s.addFragment(decodeLongFilenameEntry(slot))
			continue
		}

		header := decodeEntryHeader(slot)
		if attr&AttrVolumeID != 0 {
			s.lfn.reset()
			s.label = strings.TrimRight(decodeCP437(header.Name[:]), " ")
			continue
		}

		s.entry = s.decodeEntry(header, int64(offset))
		return true
	}

	s.end = true
	return false
}

// Entry returns the entry found by the last successful Next.
func (s *dirScanner) Entry() DirEntry {
	return s.entry
}

// Label returns the volume label entry seen so far, if any.
func (s *dirScanner) Label() string {
	return s.label
}

func (s *dirScanner) addFragment(fragment LongFilenameEntry) {
	if fragment.Sequence&lfnLast != 0 {
		if s.lfn.pending() {
			s.log.WithField("offset", s.pos-entrySize).Debug("dropping incomplete long filename")
		}
		s.lfn.start(fragment)
		return
	}

	if !s.lfn.add(fragment) {
		s.log.WithField("offset", s.pos-entrySize).Debug("dropping orphaned long filename fragment")
	}
}

func (s *dirScanner) decodeEntry(header EntryHeader, offset int64) DirEntry {
	entry := DirEntry{
		ShortName:    shortName(header),
		Attr:         header.Attribute,
		FirstCluster: header.FirstCluster(),
		Size:         header.FileSize,
		Created:      ParseDateTime(header.CreateDate, header.CreateTime, header.CreateTimeTenth),
		Modified:     ParseDateTime(header.WriteDate, header.WriteTime, 0),
		Accessed:     ParseDate(header.LastAccessDate),
		Offset:       offset,
	}
	entry.Name = entry.ShortName

	if !s.lfn.pending() {
		return entry
	}
	defer s.lfn.reset()

	log := s.log.WithField("name", entry.ShortName).WithField("offset", offset)
	if !s.lfn.complete() {
		log.Debug("ignoring incomplete long filename")
		return entry
	}
	if s.lfn.checksum != lfnChecksum(header.Name) {
		log.WithError(ErrChecksumMismatch).Warn("ignoring long filename")
		return entry
	}

	name, ok := s.lfn.name()
	if !ok {
		log.Warn("ignoring undecodable long filename")
		return entry
	}
	entry.Name = name
	return entry
}

// lfnBuffer collects the fragments of one long name. They are stored on disk
// in descending order directly before the short entry.
type lfnBuffer struct {
	fragments [][lfnChars]uint16
	// expect is the ordinal of the next fragment, 0 once all are there.
	expect   int
	checksum byte
	active   bool
}

func (b *lfnBuffer) reset() {
	b.fragments = b.fragments[:0]
	b.expect = 0
	b.checksum = 0
	b.active = false
}

func (b *lfnBuffer) pending() bool {
	return b.active
}

func (b *lfnBuffer) complete() bool {
	return b.active && b.expect == 0
}

func (b *lfnBuffer) start(fragment LongFilenameEntry) {
	b.reset()

	count := int(fragment.Sequence & lfnOrdinalMask)
	if count == 0 || count > maxLFNFragments {
		return
	}

	if cap(b.fragments) < count {
		b.fragments = make([][lfnChars]uint16, count)
	}
	b.fragments = b.fragments[:count]
	b.fragments[count-1] = fragment.units()
	b.expect = count - 1
	b.checksum = fragment.Checksum
	b.active = true
}

// add appends a follow-up fragment. It discards the whole buffer and returns
// false if the fragment does not continue the current name.
func (b *lfnBuffer) add(fragment LongFilenameEntry) bool {
	ordinal := int(fragment.Sequence & lfnOrdinalMask)
	if !b.active || b.expect == 0 || ordinal != b.expect || fragment.Checksum != b.checksum {
		b.reset()
		return false
	}

	b.fragments[ordinal-1] = fragment.units()
	b.expect--
	return true
}

// name decodes the collected UTF-16 units. The name ends at the first 0x0000,
// 0xFFFF is padding.
func (b *lfnBuffer) name() (string, bool) {
	raw := make([]byte, 0, len(b.fragments)*lfnChars*2)
collect:
	for _, fragment := range b.fragments {
		for _, unit := range fragment {
			if unit == 0x0000 {
				break collect
			}
			if unit == 0xFFFF {
				continue
			}
			raw = binary.LittleEndian.AppendUint16(raw, unit)
		}
	}

	if len(raw) == 0 {
		return "", false
	}

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// lfnChecksum is the checksum over the 11 bytes of a short name which every
// fragment of the matching long name carries.
func lfnChecksum(name [11]byte) byte {
	var sum byte
	for _, b := range name {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// shortName renders the 8.3 name of an entry as "BASE.EXT".
func shortName(header EntryHeader) string {
	raw := header.Name
	if raw[0] == entryKanji {
		raw[0] = entryDeleted
	}

	base := strings.TrimRight(decodeCP437(raw[:8]), " ")
	ext := strings.TrimRight(decodeCP437(raw[8:11]), " ")

	if header.NTReserved&ntLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if header.NTReserved&ntLowerExtension != 0 {
		ext = strings.ToLower(ext)
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

func decodeCP437(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	decoded, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}
