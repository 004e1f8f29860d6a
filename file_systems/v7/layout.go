package v7

import (
	"fmt"

	"github.com/dargueta/v7fs"
)

const SectorSize = 512

const SuperblockSector = 0
const SuperblockSectors = 2
const InodeStartSector = SuperblockSector + SuperblockSectors

const DiskInodeSize = 64
const InodesPerSector = SectorSize / DiskInodeSize

// RootInode is the inode number of the root directory. Inode 0 is reserved and
// never allocated.
const RootInode = 1

// PointersPerSector is the number of int32 sector numbers an index sector
// holds.
const PointersPerSector = SectorSize / 4

const DirectSlots = 6
const SingleIndirectSlots = 2
const DoubleIndirectSlots = 2
const AddressSlots = DirectSlots + SingleIndirectSlots + DoubleIndirectSlots

const firstSingleIndirectSlot = DirectSlots
const firstDoubleIndirectSlot = DirectSlots + SingleIndirectSlots

// Content sectors reachable through each addressing tier.
const directContentSectors = DirectSlots
const singleIndirectContentSectors = SingleIndirectSlots * PointersPerSector
const doubleIndirectContentSectors = DoubleIndirectSlots * PointersPerSector * PointersPerSector

const MaxContentSectors = directContentSectors +
	singleIndirectContentSectors +
	doubleIndirectContentSectors

// SmallFileSize is the largest file that needs no index sectors.
const SmallFileSize = SectorSize * directContentSectors

// LargeFileSize is the largest file that needs no double-indirect sectors.
const LargeFileSize = SectorSize * (directContentSectors + singleIndirectContentSectors)

// HugeFileSize is the largest file the address table can describe.
const HugeFileSize = SectorSize * MaxContentSectors

////////////////////////////////////////////////////////////////////////////////
// Geometry

// Geometry describes where the data region of an image lives. Everything
// before DataStartSector is the superblock followed by the inode table.
type Geometry struct {
	DataStartSector int
	DataSectors     int
}

// DefaultGeometry is a 17408-sector image with 8176 inode slots and 8 MiB of
// file data.
var DefaultGeometry = Geometry{DataStartSector: 1024, DataSectors: 16384}

// TotalSectors gives the minimum size of the image, in sectors.
func (geometry Geometry) TotalSectors() int {
	return geometry.DataStartSector + geometry.DataSectors
}

// InodeSlots gives the number of inode records in the inode table, including
// the reserved slot 0.
func (geometry Geometry) InodeSlots() int {
	return (geometry.DataStartSector - InodeStartSector) * InodesPerSector
}

// Validate checks that the geometry can hold at least a root directory and one
// sector of data.
func (geometry Geometry) Validate() error {
	if geometry.DataStartSector <= InodeStartSector {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"data region must start after sector %d, got %d",
				InodeStartSector,
				geometry.DataStartSector,
			),
		)
	}
	if geometry.DataSectors <= 0 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("data region must be at least 1 sector, got %d", geometry.DataSectors))
	}
	return nil
}

// InodeLocation gives the sector holding the record for inode `inode` and the
// byte offset of that record within the image.
func InodeLocation(inode int32) (sector int, offset int64) {
	sector = InodeStartSector + int(inode)/InodesPerSector
	offset = int64(sector)*SectorSize + int64(inode%InodesPerSector)*DiskInodeSize
	return sector, offset
}

////////////////////////////////////////////////////////////////////////////////
// Size arithmetic

func checkFileSize(size int64) error {
	if size < 0 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("file size can't be negative, got %d", size))
	}
	if size > HugeFileSize {
		return v7fs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%d bytes exceeds the maximum of %d", size, HugeFileSize))
	}
	return nil
}

func ceilDiv(numerator, denominator int64) int64 {
	return (numerator + denominator - 1) / denominator
}

// ContentSectorCount gives the number of sectors needed to hold `size` bytes
// of file content.
func ContentSectorCount(size int64) (int, error) {
	if err := checkFileSize(size); err != nil {
		return 0, err
	}
	return int(ceilDiv(size, SectorSize)), nil
}

// AddressSectorCount gives the number of index sectors a file of `size` bytes
// needs: one per single-indirect slot in use, plus one per double-indirect
// slot in use and one for each single-indirect page hanging off of those.
func AddressSectorCount(size int64) (int, error) {
	contentSectors, err := ContentSectorCount(size)
	if err != nil {
		return 0, err
	}

	remaining := int64(contentSectors) - directContentSectors
	if remaining <= 0 {
		return 0, nil
	}
	if remaining <= singleIndirectContentSectors {
		return int(ceilDiv(remaining, PointersPerSector)), nil
	}

	remaining -= singleIndirectContentSectors
	doubles := ceilDiv(remaining, PointersPerSector*PointersPerSector)
	pages := ceilDiv(remaining, PointersPerSector)
	return int(SingleIndirectSlots + doubles + pages), nil
}

// SectorCount gives the total number of sectors, content and index, that a
// file of `size` bytes occupies.
func SectorCount(size int64) (int, error) {
	addressSectors, err := AddressSectorCount(size)
	if err != nil {
		return 0, err
	}
	contentSectors, err := ContentSectorCount(size)
	if err != nil {
		return 0, err
	}
	return addressSectors + contentSectors, nil
}
