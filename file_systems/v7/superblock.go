package v7

import (
	"fmt"
	"sync"
	"time"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"github.com/google/uuid"
)

// Signature identifies a formatted image. Anything else in the first bytes of
// sector 0 means the image must be reformatted.
var Signature = [16]byte{'v', '7', 'f', 's', ' ', 's', 'u', 'p', 'e', 'r', 'b', 'l', 'o', 'c', 'k', 0}

const UserTableSize = SuperblockSectors*SectorSize - 68

// Superblock is the on-disk record at the start of sector 0. It occupies
// exactly [SuperblockSectors] sectors.
type Superblock struct {
	Signature       [16]byte
	DataStartSector int32
	DataSectorCount int32
	FreeSectorCount int32
	// InodeCount is the number of usable inode slots, excluding slot 0.
	InodeCount     int32
	FreeInodeCount int32
	Modified       int32
	ModifyTime     int64
	VolumeID       [16]byte
	UserCount      int32
	// UserTable is owned by the account layer and never interpreted here.
	UserTable [UserTableSize]byte
}

// NewSuperblock creates the superblock of an empty image: only the root
// directory is allocated.
func NewSuperblock(geometry Geometry, volumeID uuid.UUID) Superblock {
	inodeCount := int32(geometry.InodeSlots() - 1)
	return Superblock{
		Signature:       Signature,
		DataStartSector: int32(geometry.DataStartSector),
		DataSectorCount: int32(geometry.DataSectors),
		FreeSectorCount: int32(geometry.DataSectors),
		InodeCount:      inodeCount,
		FreeInodeCount:  inodeCount - 1,
		VolumeID:        volumeID,
	}
}

func (superblock *Superblock) HasValidSignature() bool {
	return superblock.Signature == Signature
}

func (superblock *Superblock) Geometry() Geometry {
	return Geometry{
		DataStartSector: int(superblock.DataStartSector),
		DataSectors:     int(superblock.DataSectorCount),
	}
}

////////////////////////////////////////////////////////////////////////////////

// SuperblockManager owns the in-memory copy of the superblock and writes it
// back to the image after every change. It's safe for concurrent use.
type SuperblockManager struct {
	lock       sync.Mutex
	store      *blockstore.BlockStore
	superblock Superblock
	now        func() time.Time
}

// LoadSuperblock reads the superblock from sector 0 of `store`. It doesn't
// validate the contents; use [SuperblockManager.Snapshot] for that.
func LoadSuperblock(store *blockstore.BlockStore, now func() time.Time) (*SuperblockManager, error) {
	manager := &SuperblockManager{store: store, now: now}
	err := store.ReadRecord(SuperblockSector*SectorSize, &manager.superblock)
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// Snapshot returns a copy of the current superblock.
func (manager *SuperblockManager) Snapshot() Superblock {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return manager.superblock
}

// Replace overwrites the entire superblock and persists it.
func (manager *SuperblockManager) Replace(superblock Superblock) error {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.superblock = superblock
	return manager.persist()
}

func (manager *SuperblockManager) FreeSectorCount() int {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return int(manager.superblock.FreeSectorCount)
}

func (manager *SuperblockManager) FreeInodeCount() int {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return int(manager.superblock.FreeInodeCount)
}

// AdjustFreeSectors adds `delta` to the free sector count and persists the
// superblock.
func (manager *SuperblockManager) AdjustFreeSectors(delta int) error {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	newCount := int(manager.superblock.FreeSectorCount) + delta
	if newCount < 0 || newCount > int(manager.superblock.DataSectorCount) {
		return v7fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"free sector count would become %d, not in [0, %d]",
				newCount,
				manager.superblock.DataSectorCount,
			),
		)
	}
	manager.superblock.FreeSectorCount = int32(newCount)
	return manager.persist()
}

// AdjustFreeInodes adds `delta` to the free inode count and persists the
// superblock.
func (manager *SuperblockManager) AdjustFreeInodes(delta int) error {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	newCount := int(manager.superblock.FreeInodeCount) + delta
	if newCount < 0 || newCount > int(manager.superblock.InodeCount) {
		return v7fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"free inode count would become %d, not in [0, %d]",
				newCount,
				manager.superblock.InodeCount,
			),
		)
	}
	manager.superblock.FreeInodeCount = int32(newCount)
	return manager.persist()
}

// SetFreeCounts overwrites both free counts and persists the superblock. This
// is only for repairing counts after a liveness walk.
func (manager *SuperblockManager) SetFreeCounts(freeSectors, freeInodes int) error {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	manager.superblock.FreeSectorCount = int32(freeSectors)
	manager.superblock.FreeInodeCount = int32(freeInodes)
	return manager.persist()
}

// UserTable returns a copy of the opaque user table and the number of users
// recorded in it.
func (manager *SuperblockManager) UserTable() ([]byte, int) {
	manager.lock.Lock()
	defer manager.lock.Unlock()

	table := make([]byte, UserTableSize)
	copy(table, manager.superblock.UserTable[:])
	return table, int(manager.superblock.UserCount)
}

// SetUserTable replaces the opaque user table and persists the superblock.
func (manager *SuperblockManager) SetUserTable(table []byte, userCount int) error {
	if len(table) > UserTableSize {
		return v7fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("user table is %d bytes, maximum is %d", len(table), UserTableSize))
	}

	manager.lock.Lock()
	defer manager.lock.Unlock()

	manager.superblock.UserTable = [UserTableSize]byte{}
	copy(manager.superblock.UserTable[:], table)
	manager.superblock.UserCount = int32(userCount)
	return manager.persist()
}

// Update marks the superblock as modified and writes it to the image. Calling
// it when nothing changed is harmless.
func (manager *SuperblockManager) Update() error {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return manager.persist()
}

// persist must be called with the lock held.
func (manager *SuperblockManager) persist() error {
	manager.superblock.Modified = 1
	manager.superblock.ModifyTime = manager.now().Unix()
	return manager.store.WriteRecord(SuperblockSector*SectorSize, &manager.superblock)
}
