package common_test

import (
	"testing"

	"github.com/dargueta/v7fs"
	c "github.com/dargueta/v7fs/file_systems/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator__AllocateSingle__NextFitWraps(t *testing.T) {
	alloc := c.NewAllocator(4, 8)

	for expected := c.UnitID(4); expected < 8; expected++ {
		unit, err := alloc.AllocateSingle(nil)
		require.NoError(t, err)
		assert.Equal(t, expected, unit)
	}
	assert.EqualValues(t, 0, alloc.CountFree())

	// Free one in the middle; the cursor has wrapped back to the start of the
	// range so it must be found.
	require.NoError(t, alloc.FreeSingle(5))
	unit, err := alloc.AllocateSingle(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, unit)

	_, err = alloc.AllocateSingle(nil)
	assert.ErrorIs(t, err, v7fs.ErrDiskFull)
}

func TestAllocator__FindNextFree__Skip(t *testing.T) {
	alloc := c.NewAllocator(1, 4)
	skipped := map[c.UnitID]bool{1: true, 2: true}

	unit, err := alloc.FindNextFree(func(u c.UnitID) bool { return skipped[u] })
	require.NoError(t, err)
	assert.EqualValues(t, 3, unit)
	assert.False(t, alloc.IsAllocated(3), "FindNextFree must not mark the unit")

	skipped[3] = true
	_, err = alloc.FindNextFree(func(u c.UnitID) bool { return skipped[u] })
	assert.ErrorIs(t, err, v7fs.ErrDiskFull)
}

func TestAllocator__ReservedUnitsNeverReturned(t *testing.T) {
	alloc := c.NewAllocator(3, 5)
	require.NoError(t, alloc.MarkRangeAllocated(0, 3))

	first, err := alloc.AllocateSingle(nil)
	require.NoError(t, err)
	second, err := alloc.AllocateSingle(nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []c.UnitID{3, 4}, []c.UnitID{first, second})
	assert.EqualValues(t, 2, alloc.CountAllocated())
}

func TestAllocator__MarkAndFree(t *testing.T) {
	alloc := c.NewAllocator(0, 16)

	wasFree, err := alloc.MarkAllocated(7)
	require.NoError(t, err)
	assert.True(t, wasFree)

	wasFree, err = alloc.MarkAllocated(7)
	require.NoError(t, err)
	assert.False(t, wasFree)

	require.NoError(t, alloc.FreeSingle(7))
	assert.ErrorIs(t, alloc.FreeSingle(7), v7fs.ErrInvalidArgument)

	_, err = alloc.MarkAllocated(16)
	assert.ErrorIs(t, err, v7fs.ErrArgumentOutOfRange)
	assert.True(t, alloc.IsAllocated(99), "out-of-range units must look allocated")
}
