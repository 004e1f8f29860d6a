package v7

// Sector is a checked-out sector number. It never caches data; reads and
// writes go through the [Allocator] that issued it.
type Sector struct {
	Number    int32
	allocator *Allocator
	released  bool
}

// Release gives up the checkout. It's safe to call more than once.
func (sector *Sector) Release() {
	if sector == nil || sector.released {
		return
	}
	sector.released = true
	sector.allocator.PutSector(sector.Number)
}

// IndexBlock is the decoded contents of an index sector.
type IndexBlock [PointersPerSector]int32

// releaseSectors releases every handle in the list. It's meant for `defer`.
func releaseSectors(sectors []*Sector) {
	for _, sector := range sectors {
		sector.Release()
	}
}

func sectorNumbers(sectors []*Sector) []int32 {
	numbers := make([]int32, len(sectors))
	for i, sector := range sectors {
		numbers[i] = sector.Number
	}
	return numbers
}
