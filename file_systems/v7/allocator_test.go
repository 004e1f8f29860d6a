package v7_test

import (
	"testing"

	"github.com/dargueta/v7fs"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	dt "github.com/dargueta/v7fs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator__Sector__ExclusiveCheckout(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	sector, err := alloc.GetSector(100)
	require.NoError(t, err)

	_, err = alloc.GetSector(100)
	assert.ErrorIs(t, err, v7fs.ErrAlreadyLocked)

	sector.Release()
	sector.Release()

	again, err := alloc.GetSector(100)
	require.NoError(t, err, "sector should be available after release")
	again.Release()
}

func TestAllocator__Sector__OutOfRange(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)

	_, err := fs.Allocator().GetSector(int32(dt.TinyGeometry.TotalSectors()))
	assert.ErrorIs(t, err, v7fs.ErrArgumentOutOfRange)
	_, err = fs.Allocator().GetSector(-1)
	assert.ErrorIs(t, err, v7fs.ErrArgumentOutOfRange)
}

func TestAllocator__GetFreeSector__UpdatesCount(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()
	before := fs.Superblock().FreeSectorCount()

	sector, err := alloc.GetFreeSector()
	require.NoError(t, err)
	defer sector.Release()

	assert.GreaterOrEqual(t, int(sector.Number), dt.TinyGeometry.DataStartSector)
	assert.Equal(t, before-1, fs.Superblock().FreeSectorCount())

	// A sector handed out isn't free anymore, even after it's released.
	other, err := alloc.GetFreeSector()
	require.NoError(t, err)
	defer other.Release()
	assert.NotEqual(t, sector.Number, other.Number)

	require.NoError(t, alloc.ClearSectors(sector, other))
	assert.Equal(t, before, fs.Superblock().FreeSectorCount())

	// Clearing already free sectors changes nothing.
	require.NoError(t, alloc.ClearSectors(sector))
	assert.Equal(t, before, fs.Superblock().FreeSectorCount())
}

func TestAllocator__GetFreeSector__DiskFull(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	var sectors []*v7.Sector
	for i := 0; i < dt.TinyGeometry.DataSectors; i++ {
		sector, err := alloc.GetFreeSector()
		require.NoErrorf(t, err, "failed to get sector %d", i)
		sectors = append(sectors, sector)
	}

	_, err := alloc.GetFreeSector()
	assert.ErrorIs(t, err, v7fs.ErrDiskFull)
	assert.Zero(t, fs.Superblock().FreeSectorCount())

	require.NoError(t, alloc.ClearSectors(sectors...))
	for _, sector := range sectors {
		sector.Release()
	}
	assert.Equal(t, dt.TinyGeometry.DataSectors, fs.Superblock().FreeSectorCount())
}

func TestAllocator__ClearSectors__AllOrNothing(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	good, err := alloc.GetFreeSector()
	require.NoError(t, err)
	defer good.Release()

	// Sectors outside the data region can't be freed.
	metadata, err := alloc.GetSector(1)
	require.NoError(t, err)
	defer metadata.Release()

	before := fs.Superblock().FreeSectorCount()
	err = alloc.ClearSectors(good, metadata)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
	assert.Equal(t, before, fs.Superblock().FreeSectorCount(), "nothing should've been freed")

	// Released handles can't be used either.
	released, err := alloc.GetFreeSector()
	require.NoError(t, err)
	released.Release()
	err = alloc.ClearSectors(good, released)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)

	// Clean up the sector that was never used.
	reclaim, err := alloc.GetSector(released.Number)
	require.NoError(t, err)
	defer reclaim.Release()
	require.NoError(t, alloc.ClearSectors(good, reclaim))
}

func TestAllocator__SectorIO__Bounds(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	sector, err := alloc.GetFreeSector()
	require.NoError(t, err)
	defer func() {
		require.NoError(t, alloc.ClearSectors(sector))
		sector.Release()
	}()

	data := []byte("hello, sector")
	require.NoError(t, alloc.WriteSector(sector, 500-len(data), data))

	buffer := make([]byte, len(data))
	require.NoError(t, alloc.ReadSector(sector, 500-len(data), buffer))
	assert.Equal(t, data, buffer)

	err = alloc.WriteSector(sector, 510, data)
	assert.ErrorIs(t, err, v7fs.ErrOutOfRange)
	err = alloc.ReadSector(sector, -1, buffer)
	assert.ErrorIs(t, err, v7fs.ErrOutOfRange)

	block := v7.IndexBlock{1, 2, 3}
	block[127] = 99
	require.NoError(t, alloc.WritePointers(sector, &block))
	readBack, err := alloc.ReadPointers(sector)
	require.NoError(t, err)
	assert.Equal(t, block, readBack)
}

func TestAllocator__SectorIO__RequiresCheckout(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	sector, err := alloc.GetSector(50)
	require.NoError(t, err)
	sector.Release()

	err = alloc.ReadSector(sector, 0, make([]byte, 10))
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestAllocator__Inode__Lifecycle(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()
	before := fs.Superblock().FreeInodeCount()

	inode, err := alloc.GetEmptyInode()
	require.NoError(t, err)
	assert.NotEqual(t, int32(v7.RootInode), inode.Number)
	assert.Equal(t, before, fs.Superblock().FreeInodeCount(), "checking out doesn't allocate")

	_, err = alloc.GetInode(inode.Number)
	assert.ErrorIs(t, err, v7fs.ErrAlreadyLocked)

	inode.UserID = 3
	inode.Mode = v7fs.DefaultFileMode
	require.NoError(t, alloc.UpdateInode(inode))
	assert.Equal(t, before-1, fs.Superblock().FreeInodeCount())

	// Writing it again with the same owner changes nothing.
	require.NoError(t, alloc.UpdateInode(inode))
	assert.Equal(t, before-1, fs.Superblock().FreeInodeCount())
	number := inode.Number
	inode.Release()

	loaded, err := alloc.GetInode(number)
	require.NoError(t, err)
	assert.EqualValues(t, 3, loaded.UserID)
	assert.Equal(t, v7fs.DefaultFileMode, loaded.Mode)

	loaded.Clear()
	require.NoError(t, alloc.UpdateInode(loaded))
	assert.Equal(t, before, fs.Superblock().FreeInodeCount())
	loaded.Release()

	err = alloc.UpdateInode(loaded)
	assert.ErrorIs(t, err, v7fs.ErrInvalidFileDescriptor)
}

func TestAllocator__GetInode__Invalid(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)

	_, err := fs.Allocator().GetInode(0)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument, "slot 0 is reserved")
	_, err = fs.Allocator().GetInode(int32(dt.TinyGeometry.InodeSlots()))
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestAllocator__GetEmptyInode__SkipsCheckedOut(t *testing.T) {
	fs := dt.MountBlankImage(t, dt.TinyGeometry)
	alloc := fs.Allocator()

	first, err := alloc.GetEmptyInode()
	require.NoError(t, err)
	defer first.Release()

	second, err := alloc.GetEmptyInode()
	require.NoError(t, err)
	defer second.Release()

	assert.NotEqual(t, first.Number, second.Number)
}
