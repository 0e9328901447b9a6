package vfat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/aligator/vfat/checkpoint"
)

const (
	// fat32MinClusters is the smallest cluster count of a FAT32 volume.
	// Anything below is FAT12 or FAT16.
	fat32MinClusters = 65525
	// fat32MaxClusters keeps the highest cluster index below the bad cluster
	// marker 0x0FFFFFF7.
	fat32MaxClusters = 0x0FFFFFF5

	extFlagsNoMirror   = 0x80
	extFlagsActiveMask = 0x0F

	extendedBootSignature = 0x29
)

// noLabel is the placeholder formatters write when no label was given.
const noLabel = "NO NAME"

// Geometry is the layout of a FAT32 volume derived from its boot sector.
// It never changes after the volume has been opened.
type Geometry struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	SectorsPerFAT     uint32
	RootCluster       uint32
	TotalSectors      uint32

	// ClusterCount is the number of data clusters. Valid cluster indices
	// are 2 to ClusterCount+1.
	ClusterCount uint32
	// ActiveFAT is the FAT which is read. It is 0 unless mirroring is
	// disabled in the extended flags.
	ActiveFAT uint8

	// FATOffset is the byte offset of the first FAT.
	FATOffset int64
	// DataOffset is the byte offset of cluster 2.
	DataOffset  int64
	ClusterSize int64
	// FATEntries is the number of FAT entries in use, ClusterCount plus the
	// two reserved ones. The FAT itself may be larger.
	FATEntries uint32

	VolumeID uint32
	Label    string
}

// ParseGeometry validates a FAT32 boot sector and derives the volume layout.
// Every failure is reported as ErrInvalidVolume.
func ParseGeometry(bootSector []byte) (Geometry, error) {
	if len(bootSector) < bootSectorSize {
		return Geometry{}, invalidVolume("boot sector has only %d bytes", len(bootSector))
	}
	if bootSector[510] != 0x55 || bootSector[511] != 0xAA {
		return Geometry{}, invalidVolume("missing boot signature")
	}

	bpb := BPB{}
	err := binary.Read(bytes.NewReader(bootSector), binary.LittleEndian, &bpb)
	if err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrInvalidVolume)
	}
	fat32 := FAT32SpecificData{}
	err = binary.Read(bytes.NewReader(bpb.FATSpecificData[:]), binary.LittleEndian, &fat32)
	if err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrInvalidVolume)
	}

	// FAT only supports 512, 1024, 2048 and 4096 bytes per sector.
	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return Geometry{}, invalidVolume("invalid sector size %d", bpb.BytesPerSector)
	}

	if bpb.SectorsPerCluster == 0 || bits.OnesCount8(bpb.SectorsPerCluster) != 1 {
		return Geometry{}, invalidVolume("invalid sectors per cluster %d", bpb.SectorsPerCluster)
	}

	if bpb.NumFATs == 0 {
		return Geometry{}, invalidVolume("no FAT")
	}

	// FAT32 has no fixed root directory region.
	bytesPerSector := uint32(bpb.BytesPerSector)
	rootDirSectors := (uint32(bpb.RootEntryCount)*entrySize + bytesPerSector - 1) / bytesPerSector
	if rootDirSectors != 0 {
		return Geometry{}, invalidVolume("fixed root directory of %d sectors", rootDirSectors)
	}

	fatSize := uint32(bpb.FATSize16)
	if fatSize == 0 {
		fatSize = fat32.FatSize
	}
	if fatSize == 0 {
		return Geometry{}, invalidVolume("FAT size is 0")
	}

	totalSectors := uint32(bpb.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = bpb.TotalSectors32
	}

	metaSectors := uint64(bpb.ReservedSectorCount) + uint64(bpb.NumFATs)*uint64(fatSize) + uint64(rootDirSectors)
	if metaSectors >= uint64(totalSectors) {
		return Geometry{}, invalidVolume("%d metadata sectors do not fit into %d sectors", metaSectors, totalSectors)
	}

	clusterCount := (uint64(totalSectors) - metaSectors) / uint64(bpb.SectorsPerCluster)
	if clusterCount < fat32MinClusters {
		return Geometry{}, invalidVolume("%d clusters are too few for FAT32", clusterCount)
	}
	if clusterCount > fat32MaxClusters {
		return Geometry{}, invalidVolume("%d clusters are too many for FAT32", clusterCount)
	}

	fatCapacity := uint64(fatSize) * uint64(bytesPerSector) / 4
	if fatCapacity < clusterCount+2 {
		return Geometry{}, invalidVolume("FAT of %d entries cannot hold %d clusters", fatCapacity, clusterCount)
	}

	g := Geometry{
		BytesPerSector:    bpb.BytesPerSector,
		SectorsPerCluster: bpb.SectorsPerCluster,
		ReservedSectors:   bpb.ReservedSectorCount,
		FATCount:          bpb.NumFATs,
		SectorsPerFAT:     fatSize,
		RootCluster:       fat32.RootCluster,
		TotalSectors:      totalSectors,
		ClusterCount:      uint32(clusterCount),
		FATEntries:        uint32(clusterCount + 2),
	}

	g.FATOffset = int64(bpb.ReservedSectorCount) * int64(bpb.BytesPerSector)
	g.DataOffset = g.FATOffset + int64(bpb.NumFATs)*int64(fatSize)*int64(bpb.BytesPerSector)
	g.ClusterSize = int64(bpb.SectorsPerCluster) * int64(bpb.BytesPerSector)

	if fat32.ExtFlags&extFlagsNoMirror != 0 {
		g.ActiveFAT = uint8(fat32.ExtFlags & extFlagsActiveMask)
		if g.ActiveFAT >= g.FATCount {
			return Geometry{}, invalidVolume("active FAT %d of %d", g.ActiveFAT, g.FATCount)
		}
	}

	if !g.validCluster(g.RootCluster) {
		return Geometry{}, invalidVolume("root cluster %d out of range", g.RootCluster)
	}

	if fat32.BSBootSignature == extendedBootSignature {
		g.VolumeID = fat32.BSVolumeID
		g.Label = strings.TrimRight(string(fat32.BSVolumeLabel[:]), " ")
		if g.Label == noLabel {
			g.Label = ""
		}
	}

	return g, nil
}

// ActiveFATOffset is the byte offset of the FAT which is used for reading.
func (g Geometry) ActiveFATOffset() int64 {
	return g.FATOffset + int64(g.ActiveFAT)*int64(g.SectorsPerFAT)*int64(g.BytesPerSector)
}

// ClusterOffset returns the byte offset of the given data cluster.
// It fails with ErrCorruptChain if the cluster does not exist on the volume.
func (g Geometry) ClusterOffset(cluster uint32) (int64, error) {
	if !g.validCluster(cluster) {
		return 0, checkpoint.Wrap(fmt.Errorf("cluster %d out of range [2, %d]", cluster, g.ClusterCount+1), ErrCorruptChain)
	}
	return g.DataOffset + int64(cluster-2)*g.ClusterSize, nil
}

// Size is the size of the volume in bytes as stated by the boot sector.
func (g Geometry) Size() int64 {
	return int64(g.TotalSectors) * int64(g.BytesPerSector)
}

func (g Geometry) validCluster(cluster uint32) bool {
	return cluster >= 2 && cluster-2 < g.ClusterCount && cluster < g.FATEntries
}

func invalidVolume(format string, args ...interface{}) error {
	return checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidVolume)
}
