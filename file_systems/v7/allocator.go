package v7

import (
	"fmt"
	"sync"

	"github.com/dargueta/v7fs"
	c "github.com/dargueta/v7fs/file_systems/common"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"go.uber.org/zap"
)

// SectorManager hands out exclusive checkouts of sectors and performs I/O on
// checked-out sectors.
type SectorManager interface {
	GetFreeSector() (*Sector, error)
	GetSector(number int32) (*Sector, error)
	PutSector(number int32)
	ClearSectors(sectors ...*Sector) error
	ReadSector(sector *Sector, offset int, buffer []byte) error
	WriteSector(sector *Sector, offset int, buffer []byte) error
}

// InodeManager hands out exclusive checkouts of inodes.
type InodeManager interface {
	GetEmptyInode() (*Inode, error)
	GetInode(number int32) (*Inode, error)
	PutInode(number int32)
	UpdateInode(inode *Inode) error
}

// IndexIO reads and writes index sectors for [UpdateAddress].
type IndexIO interface {
	ReadPointers(sector *Sector) (IndexBlock, error)
	WritePointers(sector *Sector, block *IndexBlock) error
}

// Allocator tracks which sectors and inodes are in use and which are checked
// out. A resource can be checked out by at most one holder at a time; asking
// for a checked-out resource fails immediately with [v7fs.ErrAlreadyLocked].
//
// Every change to the number of free sectors or inodes is written through to
// the superblock before the call returns.
type Allocator struct {
	lock          sync.Mutex
	store         *blockstore.BlockStore
	superblock    *SuperblockManager
	geometry      Geometry
	sectors       c.Allocator
	inodes        c.Allocator
	lockedSectors map[int32]struct{}
	lockedInodes  map[int32]struct{}
	logger        *zap.Logger
}

var _ SectorManager = (*Allocator)(nil)
var _ InodeManager = (*Allocator)(nil)
var _ IndexIO = (*Allocator)(nil)

// NewAllocator creates an allocator where nothing in the data region and no
// inode is in use yet. Mounting fills in the bitmaps with a liveness walk.
func NewAllocator(
	store *blockstore.BlockStore,
	superblock *SuperblockManager,
	geometry Geometry,
	logger *zap.Logger,
) *Allocator {
	sectors := c.NewAllocator(
		c.UnitID(geometry.DataStartSector), uint(geometry.TotalSectors()))
	// The superblock and inode table are permanently in use. The range starts
	// at 0 and ends at the first data sector, so it's always in bounds.
	_ = sectors.MarkRangeAllocated(0, uint(geometry.DataStartSector))

	return &Allocator{
		store:         store,
		superblock:    superblock,
		geometry:      geometry,
		sectors:       sectors,
		inodes:        c.NewAllocator(RootInode, uint(geometry.InodeSlots())),
		lockedSectors: make(map[int32]struct{}),
		lockedInodes:  make(map[int32]struct{}),
		logger:        logger,
	}
}

////////////////////////////////////////////////////////////////////////////////
// Sectors

func (alloc *Allocator) isSectorLocked(number int32) bool {
	_, locked := alloc.lockedSectors[number]
	return locked
}

func (alloc *Allocator) checkSectorNumber(number int32) error {
	if number < 0 || int(number) >= alloc.geometry.TotalSectors() {
		return v7fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"invalid sector number: %d not in range [0, %d)",
				number,
				alloc.geometry.TotalSectors(),
			),
		)
	}
	return nil
}

// GetFreeSector claims the next free sector in the data region, marks it as
// in use, and returns it checked out.
func (alloc *Allocator) GetFreeSector() (*Sector, error) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	if alloc.superblock.FreeSectorCount() <= 0 {
		alloc.logger.Debug("no free sectors left")
		return nil, v7fs.ErrDiskFull.WithMessage("no free sectors left")
	}

	unit, err := alloc.sectors.AllocateSingle(func(unit c.UnitID) bool {
		return alloc.isSectorLocked(int32(unit))
	})
	if err != nil {
		alloc.logger.Debug(
			"every free sector is checked out",
			zap.Int("free_sectors", alloc.superblock.FreeSectorCount()),
		)
		return nil, err
	}

	number := int32(unit)
	err = alloc.superblock.AdjustFreeSectors(-1)
	if err != nil {
		return nil, v7fs.AppendCleanupError(err, alloc.sectors.FreeSingle(unit))
	}

	alloc.lockedSectors[number] = struct{}{}
	return &Sector{Number: number, allocator: alloc}, nil
}

// GetSector checks out sector `number`, whether or not it's in use.
func (alloc *Allocator) GetSector(number int32) (*Sector, error) {
	if err := alloc.checkSectorNumber(number); err != nil {
		return nil, err
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	if alloc.isSectorLocked(number) {
		return nil, v7fs.ErrAlreadyLocked.WithMessage(
			fmt.Sprintf("sector %d is checked out", number))
	}
	alloc.lockedSectors[number] = struct{}{}
	return &Sector{Number: number, allocator: alloc}, nil
}

// PutSector releases the checkout on a sector. Releasing a sector that isn't
// checked out does nothing.
func (alloc *Allocator) PutSector(number int32) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	delete(alloc.lockedSectors, number)
}

// ClearSectors marks checked-out sectors as free. Sectors that are already
// free are ignored. Either all the sectors are freed or, if any of them isn't
// checked out or lies outside the data region, none are.
//
// The sectors remain checked out; the caller still has to release them.
func (alloc *Allocator) ClearSectors(sectors ...*Sector) error {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	for _, sector := range sectors {
		if sector.released || !alloc.isSectorLocked(sector.Number) {
			return v7fs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("can't free sector %d: not checked out", sector.Number))
		}
		if int(sector.Number) < alloc.geometry.DataStartSector ||
			int(sector.Number) >= alloc.geometry.TotalSectors() {
			return v7fs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("can't free sector %d: not in the data region", sector.Number))
		}
	}

	freed := 0
	for _, sector := range sectors {
		unit := c.UnitID(sector.Number)
		if alloc.sectors.IsAllocated(unit) {
			if err := alloc.sectors.FreeSingle(unit); err != nil {
				return err
			}
			freed++
		}
	}

	if freed == 0 {
		return nil
	}
	return alloc.superblock.AdjustFreeSectors(freed)
}

func (alloc *Allocator) checkSectorAccess(sector *Sector, offset, size int) error {
	if sector.released {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("sector %d was released", sector.Number))
	}
	if offset < 0 || offset+size > SectorSize {
		return v7fs.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"can't access %d bytes at offset %d of a %d-byte sector",
				size,
				offset,
				SectorSize,
			),
		)
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	if !alloc.isSectorLocked(sector.Number) {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("sector %d is not checked out", sector.Number))
	}
	return nil
}

func sectorOffset(number int32, offset int) int64 {
	return int64(number)*SectorSize + int64(offset)
}

// ReadSector fills `buffer` with bytes from a checked-out sector, starting at
// `offset` bytes into the sector.
func (alloc *Allocator) ReadSector(sector *Sector, offset int, buffer []byte) error {
	if err := alloc.checkSectorAccess(sector, offset, len(buffer)); err != nil {
		return err
	}
	return alloc.store.ReadAt(buffer, sectorOffset(sector.Number, offset))
}

// WriteSector writes `buffer` into a checked-out sector, starting at `offset`
// bytes into the sector.
func (alloc *Allocator) WriteSector(sector *Sector, offset int, buffer []byte) error {
	if err := alloc.checkSectorAccess(sector, offset, len(buffer)); err != nil {
		return err
	}
	return alloc.store.WriteAt(buffer, sectorOffset(sector.Number, offset))
}

// ReadPointers decodes a checked-out index sector.
func (alloc *Allocator) ReadPointers(sector *Sector) (IndexBlock, error) {
	var block IndexBlock
	if err := alloc.checkSectorAccess(sector, 0, SectorSize); err != nil {
		return block, err
	}
	err := alloc.store.ReadRecord(sectorOffset(sector.Number, 0), &block)
	return block, err
}

// WritePointers encodes `block` into a checked-out index sector.
func (alloc *Allocator) WritePointers(sector *Sector, block *IndexBlock) error {
	if err := alloc.checkSectorAccess(sector, 0, SectorSize); err != nil {
		return err
	}
	return alloc.store.WriteRecord(sectorOffset(sector.Number, 0), block)
}

////////////////////////////////////////////////////////////////////////////////
// Inodes

func (alloc *Allocator) isInodeLocked(number int32) bool {
	_, locked := alloc.lockedInodes[number]
	return locked
}

func (alloc *Allocator) checkInodeNumber(number int32) error {
	if number < RootInode || int(number) >= alloc.geometry.InodeSlots() {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid inode number: %d not in range [%d, %d)",
				number,
				RootInode,
				alloc.geometry.InodeSlots(),
			),
		)
	}
	return nil
}

// GetEmptyInode checks out a free inode slot. The slot is only marked as in
// use once [Allocator.UpdateInode] writes it with a nonzero user ID, so a
// caller that gives up before then leaks nothing.
func (alloc *Allocator) GetEmptyInode() (*Inode, error) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	if alloc.superblock.FreeInodeCount() <= 0 {
		alloc.logger.Debug("no free inodes left")
		return nil, v7fs.ErrDiskFull.WithMessage("no free inodes left")
	}

	unit, err := alloc.inodes.FindNextFree(func(unit c.UnitID) bool {
		return alloc.isInodeLocked(int32(unit))
	})
	if err != nil {
		return nil, err
	}

	number := int32(unit)
	alloc.lockedInodes[number] = struct{}{}
	return &Inode{Number: number, allocator: alloc}, nil
}

// GetInode checks out inode `number` and loads its on-disk record.
func (alloc *Allocator) GetInode(number int32) (*Inode, error) {
	if err := alloc.checkInodeNumber(number); err != nil {
		return nil, err
	}

	alloc.lock.Lock()
	if alloc.isInodeLocked(number) {
		alloc.lock.Unlock()
		return nil, v7fs.ErrAlreadyLocked.WithMessage(
			fmt.Sprintf("inode %d is checked out", number))
	}
	alloc.lockedInodes[number] = struct{}{}
	alloc.lock.Unlock()

	inode := &Inode{Number: number, allocator: alloc}
	_, offset := InodeLocation(number)
	err := alloc.store.ReadRecord(offset, &inode.DiskInode)
	if err != nil {
		inode.Release()
		return nil, err
	}
	return inode, nil
}

// PutInode releases the checkout on an inode. Releasing an inode that isn't
// checked out does nothing.
func (alloc *Allocator) PutInode(number int32) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	delete(alloc.lockedInodes, number)
}

// UpdateInode writes a checked-out inode back to the image. Writing a zero user
// ID to an allocated slot frees it; writing a nonzero user ID to a free slot
// allocates it. Either way the superblock's free inode count follows.
func (alloc *Allocator) UpdateInode(inode *Inode) error {
	if inode.released {
		return v7fs.ErrInvalidFileDescriptor.WithMessage(
			fmt.Sprintf("inode %d was released", inode.Number))
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	if !alloc.isInodeLocked(inode.Number) {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode %d is not checked out", inode.Number))
	}

	_, offset := InodeLocation(inode.Number)
	err := alloc.store.WriteRecord(offset, &inode.DiskInode)
	if err != nil {
		return err
	}

	unit := c.UnitID(inode.Number)
	wasAllocated := alloc.inodes.IsAllocated(unit)

	switch {
	case inode.IsFree() && wasAllocated:
		if err = alloc.inodes.FreeSingle(unit); err != nil {
			return err
		}
		return alloc.superblock.AdjustFreeInodes(1)
	case !inode.IsFree() && !wasAllocated:
		if _, err = alloc.inodes.MarkAllocated(unit); err != nil {
			return err
		}
		return alloc.superblock.AdjustFreeInodes(-1)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Liveness walk support

// markSectorReachable records that a reachable inode uses `number`. It returns
// true if the sector had already been claimed by something else.
func (alloc *Allocator) markSectorReachable(number int32) (bool, error) {
	if int(number) < alloc.geometry.DataStartSector ||
		int(number) >= alloc.geometry.TotalSectors() {
		return false, v7fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"reachable sector %d is outside the data region [%d, %d)",
				number,
				alloc.geometry.DataStartSector,
				alloc.geometry.TotalSectors(),
			),
		)
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	wasFree, err := alloc.sectors.MarkAllocated(c.UnitID(number))
	return !wasFree, err
}

// markInodeReachable records that inode `number` is reachable from the root. It
// returns true if it had already been seen.
func (alloc *Allocator) markInodeReachable(number int32) (bool, error) {
	if err := alloc.checkInodeNumber(number); err != nil {
		return false, v7fs.ErrFileSystemCorrupted.Wrap(err)
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	wasFree, err := alloc.inodes.MarkAllocated(c.UnitID(number))
	return !wasFree, err
}

// CountFree returns the number of free data sectors and free inode slots
// according to the in-memory bitmaps.
func (alloc *Allocator) CountFree() (sectors int, inodes int) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	return int(alloc.sectors.CountFree()), int(alloc.inodes.CountFree())
}

// CheckedOut returns the number of sectors and inodes currently checked out.
func (alloc *Allocator) CheckedOut() (sectors int, inodes int) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()
	return len(alloc.lockedSectors), len(alloc.lockedInodes)
}
