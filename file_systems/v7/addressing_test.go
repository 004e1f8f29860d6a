package v7_test

import (
	"fmt"
	"testing"

	"github.com/dargueta/v7fs"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryIndexStore keeps index sectors in a map instead of an image.
type memoryIndexStore struct {
	blocks map[int32]v7.IndexBlock
	reads  int
}

func newMemoryIndexStore() *memoryIndexStore {
	return &memoryIndexStore{blocks: make(map[int32]v7.IndexBlock)}
}

func (store *memoryIndexStore) ReadPointers(sector *v7.Sector) (v7.IndexBlock, error) {
	return store.read(sector.Number)
}

func (store *memoryIndexStore) WritePointers(sector *v7.Sector, block *v7.IndexBlock) error {
	store.blocks[sector.Number] = *block
	return nil
}

func (store *memoryIndexStore) read(number int32) (v7.IndexBlock, error) {
	store.reads++
	block, ok := store.blocks[number]
	if !ok {
		return block, fmt.Errorf("sector %d was never written as an index", number)
	}
	return block, nil
}

// growingFile hands out sequential sector numbers to a file as it grows.
type growingFile struct {
	address    [v7.AddressSlots]int32
	size       int64
	nextSector int32
	store      *memoryIndexStore
	content    []int32
}

func newGrowingFile() *growingFile {
	return &growingFile{nextSector: 1000, store: newMemoryIndexStore()}
}

func (file *growingFile) grow(t *testing.T, newSize int64) {
	oldCount, err := v7.SectorCount(file.size)
	require.NoError(t, err)
	newCount, err := v7.SectorCount(newSize)
	require.NoError(t, err)

	newSectors := make([]*v7.Sector, newCount-oldCount)
	for i := range newSectors {
		newSectors[i] = &v7.Sector{Number: file.nextSector}
		file.nextSector++
	}

	indexRefs, err := v7.UsedSectors(
		&file.address, file.size, 0, -1, v7.WalkIndex, file.store.read)
	require.NoError(t, err)
	addressSectors := make([]*v7.Sector, len(indexRefs))
	for i, ref := range indexRefs {
		addressSectors[i] = &v7.Sector{Number: ref.Sector}
	}

	content, err := v7.UpdateAddress(
		file.store, &file.address, newSize, file.size, newSectors, addressSectors)
	require.NoErrorf(t, err, "failed to grow from %d to %d", file.size, newSize)

	for _, sector := range content {
		file.content = append(file.content, sector.Number)
	}
	file.size = newSize
}

func (file *growingFile) check(t *testing.T) {
	contentRefs, err := v7.UsedSectors(
		&file.address, file.size, 0, -1, v7.WalkContent, file.store.read)
	require.NoError(t, err)
	require.Len(t, contentRefs, len(file.content))
	for i, ref := range contentRefs {
		require.Truef(t, ref.Content, "ref %d should be content", i)
		require.Equalf(t, i, ref.Index, "ref %d has the wrong position", i)
		require.Equalf(t, file.content[i], ref.Sector, "content sector %d is wrong", i)
	}

	allRefs, err := v7.UsedSectors(
		&file.address, file.size, 0, -1, v7.WalkAll, file.store.read)
	require.NoError(t, err)
	expectedTotal, _ := v7.SectorCount(file.size)
	require.Len(t, allRefs, expectedTotal)

	seen := make(map[int32]bool)
	for _, ref := range allRefs {
		require.Falsef(t, seen[ref.Sector], "sector %d reported twice", ref.Sector)
		seen[ref.Sector] = true
	}

	indexRefs, err := v7.UsedSectors(
		&file.address, file.size, 0, -1, v7.WalkIndex, file.store.read)
	require.NoError(t, err)
	expectedIndex, _ := v7.AddressSectorCount(file.size)
	require.Len(t, indexRefs, expectedIndex)
}

func TestUpdateAddress__GrowThroughAllTiers(t *testing.T) {
	file := newGrowingFile()
	sizes := []int64{
		100,
		v7.SmallFileSize,
		v7.SmallFileSize + 1,
		v7.SmallFileSize + 128*512 + 1,
		v7.LargeFileSize,
		v7.LargeFileSize + 1,
		v7.LargeFileSize + 3*128*512 + 17,
		v7.LargeFileSize + 128*128*512 + 1,
	}

	for _, size := range sizes {
		file.grow(t, size)
		file.check(t)
	}
}

func TestUpdateAddress__SingleJump(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, v7.LargeFileSize+5*128*512)
	file.check(t)
}

func TestUpdateAddress__NoNewSectors(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, 10)
	before := file.address
	file.grow(t, 500)
	assert.Equal(t, before, file.address)
	file.check(t)
}

func TestUpdateAddress__WrongSectorCount(t *testing.T) {
	store := newMemoryIndexStore()
	var address [v7.AddressSlots]int32

	newSectors := []*v7.Sector{{Number: 50}}
	_, err := v7.UpdateAddress(store, &address, 2*512, 0, newSectors, nil)
	assert.ErrorIs(t, err, v7fs.ErrAddressMismatch)

	// A file past the direct tier needs its index sector passed back in.
	newSectors = make([]*v7.Sector, 8)
	for i := range newSectors {
		newSectors[i] = &v7.Sector{Number: int32(100 + i)}
	}
	_, err = v7.UpdateAddress(store, &address, v7.SmallFileSize+1, 0, newSectors, nil)
	require.NoError(t, err)

	_, err = v7.UpdateAddress(
		store,
		&address,
		v7.SmallFileSize+600,
		v7.SmallFileSize+1,
		[]*v7.Sector{{Number: 200}},
		nil,
	)
	assert.ErrorIs(t, err, v7fs.ErrAddressMismatch)
}

func TestUpdateAddress__CantShrink(t *testing.T) {
	var address [v7.AddressSlots]int32
	_, err := v7.UpdateAddress(newMemoryIndexStore(), &address, 0, 512, nil, nil)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestWalkSectors__RangeOrder(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, v7.SmallFileSize+4*512)

	refs, err := v7.UsedSectors(
		&file.address, file.size, 5*512+10, 3*512, v7.WalkAll, file.store.read)
	require.NoError(t, err)
	require.Len(t, refs, 5)

	assert.True(t, refs[0].Content)
	assert.Equal(t, 5, refs[0].Index)
	assert.False(t, refs[1].Content, "single-indirect sector must come before its children")
	assert.Equal(t, -1, refs[1].Index)
	assert.Equal(t, file.address[6], refs[1].Sector)
	for i, ref := range refs[2:] {
		assert.True(t, ref.Content)
		assert.Equal(t, 6+i, ref.Index)
	}
}

func TestWalkSectors__DirectRangeReadsNoIndex(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, v7.LargeFileSize+1)
	file.store.reads = 0

	refs, err := v7.UsedSectors(
		&file.address, file.size, 0, 6*512, v7.WalkAll, file.store.read)
	require.NoError(t, err)
	assert.Len(t, refs, 6)
	assert.Zero(t, file.store.reads, "walking direct sectors shouldn't read index sectors")
}

func TestWalkSectors__EmptyRanges(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, 2000)

	refs, err := v7.UsedSectors(&file.address, file.size, 0, 0, v7.WalkAll, file.store.read)
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = v7.UsedSectors(&file.address, file.size, 5000, -1, v7.WalkAll, file.store.read)
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = v7.UsedSectors(&file.address, file.size, -1, 10, v7.WalkAll, file.store.read)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestWalkSectors__StopsOnVisitorError(t *testing.T) {
	file := newGrowingFile()
	file.grow(t, 4*512)

	visits := 0
	err := v7.WalkSectors(
		&file.address,
		file.size,
		0,
		-1,
		v7.WalkAll,
		file.store.read,
		func(ref v7.SectorRef) error {
			visits++
			if visits == 2 {
				return v7fs.ErrAlreadyLocked
			}
			return nil
		},
	)
	assert.ErrorIs(t, err, v7fs.ErrAlreadyLocked)
	assert.Equal(t, 2, visits)
}
