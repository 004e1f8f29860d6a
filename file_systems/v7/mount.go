package v7

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options control how an image is mounted.
type Options struct {
	// Geometry is only used if the image has to be formatted. A mounted
	// image always uses the geometry recorded in its superblock. The zero
	// value means [DefaultGeometry].
	Geometry Geometry
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Now defaults to [time.Now].
	Now func() time.Time
}

func (options *Options) setDefaults() {
	if options.Geometry == (Geometry{}) {
		options.Geometry = DefaultGeometry
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
}

// FileSystem is a mounted image. All sessions working on the same image must
// share one FileSystem.
type FileSystem struct {
	store      *blockstore.BlockStore
	superblock *SuperblockManager
	allocator  *Allocator
	geometry   Geometry
	logger     *zap.Logger
	now        func() time.Time
}

// Format writes an empty file system with the given geometry to `store`,
// destroying whatever was there. Only the root directory exists afterwards,
// owned by the super-user.
func Format(store *blockstore.BlockStore, options Options) error {
	options.setDefaults()
	geometry := options.Geometry

	if err := geometry.Validate(); err != nil {
		return err
	}
	if store.TotalBlocks() < uint(geometry.TotalSectors()) {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"image has %d sectors, geometry needs %d",
				store.TotalBlocks(),
				geometry.TotalSectors(),
			),
		)
	}

	err := store.ZeroBlocks(
		InodeStartSector, uint(geometry.DataStartSector-InodeStartSector))
	if err != nil {
		return err
	}

	root := DiskInode{
		Mode:      v7fs.DefaultDirectoryMode,
		LinkCount: 1,
		UserID:    v7fs.SuperUserID,
		GroupID:   v7fs.SuperUserID,
	}
	root.Touch(options.Now())
	_, rootOffset := InodeLocation(RootInode)
	if err = store.WriteRecord(rootOffset, &root); err != nil {
		return err
	}

	volumeID := uuid.New()
	superblock := NewSuperblock(geometry, volumeID)
	superblock.Modified = 1
	superblock.ModifyTime = options.Now().Unix()
	if err = store.WriteRecord(SuperblockSector*SectorSize, &superblock); err != nil {
		return err
	}

	options.Logger.Info(
		"formatted image",
		zap.String("volume_id", volumeID.String()),
		zap.Int("data_start_sector", geometry.DataStartSector),
		zap.Int("data_sectors", geometry.DataSectors),
		zap.Int("inodes", int(superblock.InodeCount)),
	)
	return nil
}

// Mount opens the file system on `store`. If the image has no valid superblock
// it's formatted first. The free sector and inode counts are then rebuilt from
// what is actually reachable from the root directory, and the superblock is
// corrected if it disagrees.
func Mount(store *blockstore.BlockStore, options Options) (*FileSystem, error) {
	options.setDefaults()
	logger := options.Logger

	superblock, err := LoadSuperblock(store, options.Now)
	if err != nil {
		return nil, err
	}

	snapshot := superblock.Snapshot()
	if !snapshot.HasValidSignature() {
		logger.Warn("image has no valid superblock, formatting")
		if err = Format(store, options); err != nil {
			return nil, err
		}
		if superblock, err = LoadSuperblock(store, options.Now); err != nil {
			return nil, err
		}
		snapshot = superblock.Snapshot()
	}

	geometry := snapshot.Geometry()
	if err = geometry.Validate(); err != nil {
		return nil, v7fs.ErrFileSystemCorrupted.Wrap(err)
	}
	if store.TotalBlocks() < uint(geometry.TotalSectors()) {
		return nil, v7fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"image has %d sectors, superblock says %d",
				store.TotalBlocks(),
				geometry.TotalSectors(),
			),
		)
	}

	fs := &FileSystem{
		store:      store,
		superblock: superblock,
		geometry:   geometry,
		logger:     logger,
		now:        options.Now,
	}
	fs.allocator = NewAllocator(store, superblock, geometry, logger)

	if err = fs.walkReachable(fs.allocator); err != nil {
		return nil, err
	}
	if err = fs.repairFreeCounts(); err != nil {
		return nil, err
	}

	freeSectors, freeInodes := fs.allocator.CountFree()
	logger.Info(
		"mounted image",
		zap.String("volume_id", uuid.UUID(snapshot.VolumeID).String()),
		zap.Int("free_sectors", freeSectors),
		zap.Int("free_inodes", freeInodes),
	)
	return fs, nil
}

// Unmount writes the superblock one last time. The FileSystem must not be used
// afterwards. Closing the block store is up to the caller.
func (fs *FileSystem) Unmount() error {
	checkedOutSectors, checkedOutInodes := fs.allocator.CheckedOut()
	if checkedOutSectors > 0 || checkedOutInodes > 0 {
		fs.logger.Warn(
			"unmounting with resources still checked out",
			zap.Int("sectors", checkedOutSectors),
			zap.Int("inodes", checkedOutInodes),
		)
	}
	return fs.superblock.Update()
}

func (fs *FileSystem) Allocator() *Allocator {
	return fs.allocator
}

func (fs *FileSystem) Superblock() *SuperblockManager {
	return fs.superblock
}

func (fs *FileSystem) Geometry() Geometry {
	return fs.geometry
}

// FSStat summarizes space usage from the superblock.
func (fs *FileSystem) FSStat() v7fs.FSStat {
	snapshot := fs.superblock.Snapshot()
	return v7fs.FSStat{
		VolumeID:    uuid.UUID(snapshot.VolumeID).String(),
		BlockSize:   SectorSize,
		TotalBlocks: int(snapshot.DataSectorCount),
		BlocksFree:  int(snapshot.FreeSectorCount),
		Files:       int(snapshot.InodeCount),
		FilesFree:   int(snapshot.FreeInodeCount),
		ModifiedAt:  time.Unix(snapshot.ModifyTime, 0),
	}
}

////////////////////////////////////////////////////////////////////////////////
// Liveness walk

// readIndexRaw reads an index sector straight from the image without checking
// it out. Only the liveness walk may do this.
func (fs *FileSystem) readIndexRaw(sector int32) (IndexBlock, error) {
	var block IndexBlock
	if int(sector) < fs.geometry.DataStartSector || int(sector) >= fs.geometry.TotalSectors() {
		return block, v7fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("index sector %d is outside the data region", sector))
	}
	err := fs.store.ReadRecord(int64(sector)*SectorSize, &block)
	return block, err
}

// walkReachable marks every inode and sector reachable from the root directory
// as in use in `alloc`.
func (fs *FileSystem) walkReachable(alloc *Allocator) error {
	return fs.walkInode(alloc, RootInode, true)
}

func (fs *FileSystem) walkInode(alloc *Allocator, number int32, isDirectory bool) error {
	var inode DiskInode
	_, offset := InodeLocation(number)
	if err := fs.store.ReadRecord(offset, &inode); err != nil {
		return err
	}
	if inode.IsFree() {
		fs.logger.Warn("directory entry points to a free inode", zap.Int32("inode", number))
		return nil
	}

	seen, err := alloc.markInodeReachable(number)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	var contentSectors []int32
	err = WalkSectors(
		&inode.Address,
		int64(inode.Size),
		0,
		-1,
		WalkAll,
		fs.readIndexRaw,
		func(ref SectorRef) error {
			alreadyClaimed, err := alloc.markSectorReachable(ref.Sector)
			if err != nil {
				return err
			}
			if alreadyClaimed {
				fs.logger.Warn(
					"sector is used more than once",
					zap.Int32("sector", ref.Sector),
					zap.Int32("inode", number),
				)
			}
			if ref.Content {
				contentSectors = append(contentSectors, ref.Sector)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("inode %d: %w", number, err)
	}

	if !isDirectory {
		return nil
	}

	var children []DirectoryEntry
	remaining := int(inode.Size) / DirectoryEntrySize
	for _, sector := range contentSectors {
		if remaining <= 0 {
			break
		}

		count := min(remaining, EntriesPerSector)
		buffer := make([]byte, count*DirectoryEntrySize)
		if err = fs.store.ReadAt(buffer, int64(sector)*SectorSize); err != nil {
			return err
		}
		entries, err := decodeEntries(buffer)
		if err != nil {
			return err
		}
		children = append(children, entries...)
		remaining -= count
	}

	for _, child := range children {
		if child.IsDotEntry() {
			continue
		}
		if child.InodeNumber < RootInode || int(child.InodeNumber) >= fs.geometry.InodeSlots() {
			fs.logger.Warn(
				"directory entry has an invalid inode number",
				zap.Int32("directory", number),
				zap.String("name", child.Name()),
				zap.Int32("inode", child.InodeNumber),
			)
			continue
		}
		if err = fs.walkInode(alloc, child.InodeNumber, child.IsDirectory()); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) repairFreeCounts() error {
	freeSectors, freeInodes := fs.allocator.CountFree()
	snapshot := fs.superblock.Snapshot()

	if int(snapshot.FreeSectorCount) == freeSectors && int(snapshot.FreeInodeCount) == freeInodes {
		return nil
	}

	fs.logger.Warn(
		"free counts in superblock are wrong, repairing",
		zap.Int32("stored_free_sectors", snapshot.FreeSectorCount),
		zap.Int("actual_free_sectors", freeSectors),
		zap.Int32("stored_free_inodes", snapshot.FreeInodeCount),
		zap.Int("actual_free_inodes", freeInodes),
	)
	return fs.superblock.SetFreeCounts(freeSectors, freeInodes)
}

////////////////////////////////////////////////////////////////////////////////
// Consistency check

// ConsistencyReport compares the superblock's free counts with the image.
type ConsistencyReport struct {
	StoredFreeSectors int
	StoredFreeInodes  int
	// ReachableFreeSectors and ReachableFreeInodes count what a fresh
	// liveness walk finds unused.
	ReachableFreeSectors int
	ReachableFreeInodes  int
	// FreeInodeSlots counts records in the inode table with a zero user ID,
	// not counting the reserved slot 0.
	FreeInodeSlots    int
	CheckedOutSectors int
	CheckedOutInodes  int
}

// Consistent returns true if the stored counts match the image.
func (report ConsistencyReport) Consistent() bool {
	return report.StoredFreeSectors == report.ReachableFreeSectors &&
		report.StoredFreeInodes == report.ReachableFreeInodes &&
		report.StoredFreeInodes == report.FreeInodeSlots
}

// Check reruns the liveness walk without repairing anything. The result is only
// meaningful when no other operation is in progress.
func (fs *FileSystem) Check() (ConsistencyReport, error) {
	var report ConsistencyReport

	scratch := NewAllocator(fs.store, fs.superblock, fs.geometry, fs.logger)
	if err := fs.walkReachable(scratch); err != nil {
		return report, err
	}
	report.ReachableFreeSectors, report.ReachableFreeInodes = scratch.CountFree()

	freeSlots, err := fs.countFreeInodeSlots()
	if err != nil {
		return report, err
	}
	report.FreeInodeSlots = freeSlots

	snapshot := fs.superblock.Snapshot()
	report.StoredFreeSectors = int(snapshot.FreeSectorCount)
	report.StoredFreeInodes = int(snapshot.FreeInodeCount)
	report.CheckedOutSectors, report.CheckedOutInodes = fs.allocator.CheckedOut()
	return report, nil
}

func (fs *FileSystem) countFreeInodeSlots() (int, error) {
	free := 0
	buffer := make([]byte, SectorSize)
	var records [InodesPerSector]DiskInode

	for sector := InodeStartSector; sector < fs.geometry.DataStartSector; sector++ {
		if err := fs.store.ReadBlock(uint(sector), buffer); err != nil {
			return 0, err
		}
		err := binary.Read(bytes.NewReader(buffer), binary.LittleEndian, &records)
		if err != nil {
			return 0, v7fs.ErrIOFailed.Wrap(err)
		}

		for i := range records {
			number := (sector-InodeStartSector)*InodesPerSector + i
			if number >= RootInode && records[i].IsFree() {
				free++
			}
		}
	}
	return free, nil
}
