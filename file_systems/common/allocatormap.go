// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/v7fs"
)

// Allocator tracks which units in the range [FirstUnit, TotalUnits) are in
// use. Units below FirstUnit are reserved and never handed out. Searches are
// next-fit: they resume where the previous search left off and wrap around.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	FirstUnit        UnitID
	TotalUnits       uint
	cursor           UnitID
}

// NewAllocator creates a new allocation bitmap with all bits cleared.
func NewAllocator(firstUnit UnitID, totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		FirstUnit:        firstUnit,
		TotalUnits:       totalUnits,
		cursor:           firstUnit,
	}
}

func (alloc *Allocator) checkUnit(unit UnitID) error {
	if uint(unit) >= alloc.TotalUnits {
		msg := fmt.Sprintf(
			"invalid unit id: %d not in range [0, %d)",
			unit,
			alloc.TotalUnits)
		return v7fs.ErrArgumentOutOfRange.WithMessage(msg)
	}
	return nil
}

// IsAllocated returns true if the unit is marked as in use. Out-of-range units
// are reported as allocated so they're never handed out.
func (alloc *Allocator) IsAllocated(unit UnitID) bool {
	if uint(unit) >= alloc.TotalUnits {
		return true
	}
	return alloc.AllocationBitmap.Get(int(unit))
}

// MarkAllocated marks a unit as in use. It returns true if the unit was free
// before the call.
func (alloc *Allocator) MarkAllocated(unit UnitID) (bool, error) {
	if err := alloc.checkUnit(unit); err != nil {
		return false, err
	}

	wasFree := !alloc.AllocationBitmap.Get(int(unit))
	alloc.AllocationBitmap.Set(int(unit), true)
	return wasFree, nil
}

// MarkRangeAllocated marks all units in [start, start + count) as in use. This
// is for reserved regions like the superblock and inode table.
func (alloc *Allocator) MarkRangeAllocated(start UnitID, count uint) error {
	for i := uint(0); i < count; i++ {
		if _, err := alloc.MarkAllocated(start + UnitID(i)); err != nil {
			return err
		}
	}
	return nil
}

// FreeSingle frees an allocated unit. Trying to free a unit that isn't allocated
// returns an error and changes nothing.
func (alloc *Allocator) FreeSingle(unit UnitID) error {
	if err := alloc.checkUnit(unit); err != nil {
		return err
	}
	if !alloc.AllocationBitmap.Get(int(unit)) {
		msg := fmt.Sprintf("unit %d is already free", unit)
		return v7fs.ErrInvalidArgument.WithMessage(msg)
	}

	alloc.AllocationBitmap.Set(int(unit), false)
	return nil
}

// FindNextFree returns the first free unit at or after the search cursor for
// which `skip` returns false, wrapping around to FirstUnit at the end of the
// bitmap. The cursor is moved past the returned unit, but the unit is not
// marked as allocated. `skip` may be nil.
//
// If a full lap finds nothing, it returns [v7fs.ErrDiskFull].
func (alloc *Allocator) FindNextFree(skip func(UnitID) bool) (UnitID, error) {
	span := alloc.TotalUnits - uint(alloc.FirstUnit)
	if alloc.cursor < alloc.FirstUnit || uint(alloc.cursor) >= alloc.TotalUnits {
		alloc.cursor = alloc.FirstUnit
	}

	for i := uint(0); i < span; i++ {
		unit := alloc.cursor
		alloc.cursor++
		if uint(alloc.cursor) >= alloc.TotalUnits {
			alloc.cursor = alloc.FirstUnit
		}

		if alloc.AllocationBitmap.Get(int(unit)) {
			continue
		}
		if skip != nil && skip(unit) {
			continue
		}
		return unit, nil
	}

	return 0, v7fs.ErrDiskFull.WithMessage(
		fmt.Sprintf("no free units in [%d, %d)", alloc.FirstUnit, alloc.TotalUnits))
}

// AllocateSingle finds the next free unit as in [Allocator.FindNextFree] and
// marks it as in use.
func (alloc *Allocator) AllocateSingle(skip func(UnitID) bool) (UnitID, error) {
	unit, err := alloc.FindNextFree(skip)
	if err != nil {
		return 0, err
	}
	alloc.AllocationBitmap.Set(int(unit), true)
	return unit, nil
}

// CountAllocated gives the number of units in [FirstUnit, TotalUnits) that are
// in use. Reserved units are not counted.
func (alloc *Allocator) CountAllocated() uint {
	total := uint(0)
	for i := uint(alloc.FirstUnit); i < alloc.TotalUnits; i++ {
		if alloc.AllocationBitmap.Get(int(i)) {
			total++
		}
	}
	return total
}

// CountFree gives the number of units in [FirstUnit, TotalUnits) that are not
// in use.
func (alloc *Allocator) CountFree() uint {
	return alloc.TotalUnits - uint(alloc.FirstUnit) - alloc.CountAllocated()
}
