package v7

import (
	"fmt"

	"github.com/dargueta/v7fs"
)

// The address table of an inode has three tiers:
//
//   - Slots 0-5 hold content sector numbers directly.
//   - Slots 6-7 each point to a single-indirect sector holding up to
//     [PointersPerSector] content sector numbers.
//   - Slots 8-9 each point to a double-indirect sector holding up to
//     [PointersPerSector] single-indirect sector numbers.
//
// Tiers fill in order, and within a tier slots fill in order, so the sectors a
// file uses are a pure function of its size.

// WalkMode selects which sectors [WalkSectors] reports.
type WalkMode int

const (
	WalkAll WalkMode = iota
	WalkContent
	WalkIndex
)

// SectorRef is a sector used by a file.
type SectorRef struct {
	Sector int32
	// Content is false for index sectors.
	Content bool
	// Index is the position of a content sector in the file, in sectors. It's
	// -1 for index sectors.
	Index int
}

// IndexReader returns the contents of index sector `sector`.
type IndexReader func(sector int32) (IndexBlock, error)

type sectorWalker struct {
	// first and last are the inclusive range of content sector positions
	// requested.
	first     int64
	last      int64
	mode      WalkMode
	readIndex IndexReader
	visit     func(SectorRef) error
}

func (walker *sectorWalker) intersects(lo, hi int64) bool {
	return lo <= walker.last && hi > walker.first
}

func (walker *sectorWalker) emitIndex(sector int32) error {
	if walker.mode == WalkContent {
		return nil
	}
	return walker.visit(SectorRef{Sector: sector, Index: -1})
}

func (walker *sectorWalker) emitContent(sector int32, index int64) error {
	if walker.mode == WalkIndex {
		return nil
	}
	return walker.visit(SectorRef{Sector: sector, Content: true, Index: int(index)})
}

// walkSingle walks a single-indirect sector whose first entry is the content
// sector at position `lo`.
func (walker *sectorWalker) walkSingle(sector int32, lo int64) error {
	if walker.mode == WalkIndex {
		return walker.emitIndex(sector)
	}

	// The block is read before the sector is reported so that a visitor which
	// checks the sector out doesn't collide with the read.
	block, err := walker.readIndex(sector)
	if err != nil {
		return err
	}
	if err = walker.emitIndex(sector); err != nil {
		return err
	}

	from := max(lo, walker.first)
	to := min(lo+PointersPerSector-1, walker.last)
	for i := from; i <= to; i++ {
		if err = walker.emitContent(block[i-lo], i); err != nil {
			return err
		}
	}
	return nil
}

// walkDouble walks a double-indirect sector whose first page starts at the
// content sector at position `lo`.
func (walker *sectorWalker) walkDouble(sector int32, lo int64) error {
	block, err := walker.readIndex(sector)
	if err != nil {
		return err
	}
	if err = walker.emitIndex(sector); err != nil {
		return err
	}

	for page := int64(0); page < PointersPerSector; page++ {
		pageStart := lo + page*PointersPerSector
		if pageStart > walker.last {
			break
		}
		if !walker.intersects(pageStart, pageStart+PointersPerSector) {
			continue
		}
		if err = walker.walkSingle(block[page], pageStart); err != nil {
			return err
		}
	}
	return nil
}

// WalkSectors calls `visit` for each sector a file of `size` bytes uses to
// store the byte range [start, start + length), in order. A negative `length`
// means "through the end of the file". Index sectors are reported before the
// sectors they point to, and only index sectors whose range overlaps the
// requested range are read or reported.
//
// Walking stops at the first error from `readIndex` or `visit`.
func WalkSectors(
	address *[AddressSlots]int32,
	size int64,
	start int64,
	length int64,
	mode WalkMode,
	readIndex IndexReader,
	visit func(SectorRef) error,
) error {
	contentSectors, err := ContentSectorCount(size)
	if err != nil {
		return err
	}
	if start < 0 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("start offset can't be negative, got %d", start))
	}

	walker := sectorWalker{
		first:     start / SectorSize,
		last:      int64(contentSectors) - 1,
		mode:      mode,
		readIndex: readIndex,
		visit:     visit,
	}
	if length == 0 {
		return nil
	} else if length > 0 {
		walker.last = min(walker.last, (start+length-1)/SectorSize)
	}
	if walker.first > walker.last {
		return nil
	}

	for i := int64(0); i < DirectSlots && i <= walker.last; i++ {
		if i >= walker.first {
			if err = walker.emitContent(address[i], i); err != nil {
				return err
			}
		}
	}

	lo := int64(directContentSectors)
	for slot := firstSingleIndirectSlot; slot < firstDoubleIndirectSlot; slot++ {
		if walker.intersects(lo, lo+PointersPerSector) {
			if err = walker.walkSingle(address[slot], lo); err != nil {
				return err
			}
		}
		lo += PointersPerSector
	}

	for slot := firstDoubleIndirectSlot; slot < AddressSlots; slot++ {
		if walker.intersects(lo, lo+PointersPerSector*PointersPerSector) {
			if err = walker.walkDouble(address[slot], lo); err != nil {
				return err
			}
		}
		lo += PointersPerSector * PointersPerSector
	}
	return nil
}

// UsedSectors is [WalkSectors] collected into a slice.
func UsedSectors(
	address *[AddressSlots]int32,
	size int64,
	start int64,
	length int64,
	mode WalkMode,
	readIndex IndexReader,
) ([]SectorRef, error) {
	var refs []SectorRef
	err := WalkSectors(
		address,
		size,
		start,
		length,
		mode,
		readIndex,
		func(ref SectorRef) error {
			refs = append(refs, ref)
			return nil
		},
	)
	return refs, err
}

////////////////////////////////////////////////////////////////////////////////

type addressUpdater struct {
	indexIO        IndexIO
	oldContent     int64
	contentSectors []*Sector
	indexSectors   []*Sector
}

func (updater *addressUpdater) indexSector(position int) (*Sector, error) {
	if position >= len(updater.indexSectors) {
		return nil, v7fs.ErrAddressMismatch.WithMessage(
			fmt.Sprintf(
				"need index sector #%d but only %d were supplied",
				position,
				len(updater.indexSectors),
			),
		)
	}
	return updater.indexSectors[position], nil
}

func (updater *addressUpdater) contentSector(index int64) int32 {
	return updater.contentSectors[index-updater.oldContent].Number
}

// loadBlock reads an existing index sector, or returns an empty block if the
// sector is new and has no entries worth keeping.
func (updater *addressUpdater) loadBlock(sector *Sector, isNew bool) (IndexBlock, error) {
	if isNew {
		return IndexBlock{}, nil
	}
	return updater.indexIO.ReadPointers(sector)
}

// fillSingle writes the content sectors at positions [from, to) into the
// single-indirect sector whose first entry is position `lo`.
func (updater *addressUpdater) fillSingle(sector *Sector, lo, from, to int64) error {
	block, err := updater.loadBlock(sector, from == lo)
	if err != nil {
		return err
	}
	for i := from; i < to; i++ {
		block[i-lo] = updater.contentSector(i)
	}
	return updater.indexIO.WritePointers(sector, &block)
}

// UpdateAddress records newly allocated sectors in the address table of a file
// growing from `oldSize` to `newSize` bytes.
//
// `newSectors` must hold exactly SectorCount(newSize) - SectorCount(oldSize)
// freshly allocated sectors and `addressSectors` the file's existing index
// sectors in walk order, exactly AddressSectorCount(oldSize) of them; anything
// else fails with [v7fs.ErrAddressMismatch]. The first new sectors become
// content sectors and the rest become new index sectors. Index sectors are
// updated on disk through `indexIO`; `address` is updated in place but the
// caller must persist the inode.
//
// The new content sectors are returned in file order.
func UpdateAddress(
	indexIO IndexIO,
	address *[AddressSlots]int32,
	newSize int64,
	oldSize int64,
	newSectors []*Sector,
	addressSectors []*Sector,
) ([]*Sector, error) {
	if newSize < oldSize {
		return nil, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("can't shrink a file from %d to %d bytes here", oldSize, newSize))
	}

	oldTotal, err := SectorCount(oldSize)
	if err != nil {
		return nil, err
	}
	newTotal, err := SectorCount(newSize)
	if err != nil {
		return nil, err
	}
	oldIndexCount, _ := AddressSectorCount(oldSize)
	oldContent, _ := ContentSectorCount(oldSize)
	newContent, _ := ContentSectorCount(newSize)

	if len(newSectors) != newTotal-oldTotal {
		return nil, v7fs.ErrAddressMismatch.WithMessage(
			fmt.Sprintf(
				"growing from %d to %d bytes needs %d new sectors, got %d",
				oldSize,
				newSize,
				newTotal-oldTotal,
				len(newSectors),
			),
		)
	}
	if len(addressSectors) != oldIndexCount {
		return nil, v7fs.ErrAddressMismatch.WithMessage(
			fmt.Sprintf(
				"a file of %d bytes has %d index sectors, got %d",
				oldSize,
				oldIndexCount,
				len(addressSectors),
			),
		)
	}

	newContentCount := newContent - oldContent
	updater := addressUpdater{
		indexIO:        indexIO,
		oldContent:     int64(oldContent),
		contentSectors: newSectors[:newContentCount],
	}
	updater.indexSectors = make([]*Sector, 0, len(addressSectors)+len(newSectors)-newContentCount)
	updater.indexSectors = append(updater.indexSectors, addressSectors...)
	updater.indexSectors = append(updater.indexSectors, newSectors[newContentCount:]...)

	first := int64(oldContent)
	end := int64(newContent)

	for i := first; i < min(end, directContentSectors); i++ {
		address[i] = updater.contentSector(i)
	}

	lo := int64(directContentSectors)
	for k := 0; k < SingleIndirectSlots; k++ {
		from := max(lo, first)
		to := min(lo+PointersPerSector, end)
		if from < to {
			sector, err := updater.indexSector(k)
			if err != nil {
				return nil, err
			}
			if err = updater.fillSingle(sector, lo, from, to); err != nil {
				return nil, err
			}
			address[firstSingleIndirectSlot+k] = sector.Number
		}
		lo += PointersPerSector
	}

	for d := 0; d < DoubleIndirectSlots; d++ {
		from := max(lo, first)
		to := min(lo+PointersPerSector*PointersPerSector, end)
		if from < to {
			// The double-indirect sector comes first in walk order, followed
			// by each of its pages.
			base := SingleIndirectSlots + d*(1+PointersPerSector)
			outer, err := updater.indexSector(base)
			if err != nil {
				return nil, err
			}
			outerBlock, err := updater.loadBlock(outer, from == lo)
			if err != nil {
				return nil, err
			}

			for page := (from - lo) / PointersPerSector; lo+page*PointersPerSector < to; page++ {
				pageStart := lo + page*PointersPerSector
				inner, err := updater.indexSector(base + 1 + int(page))
				if err != nil {
					return nil, err
				}
				err = updater.fillSingle(
					inner,
					pageStart,
					max(pageStart, from),
					min(pageStart+PointersPerSector, to),
				)
				if err != nil {
					return nil, err
				}
				outerBlock[page] = inner.Number
			}

			if err = indexIO.WritePointers(outer, &outerBlock); err != nil {
				return nil, err
			}
			address[firstDoubleIndirectSlot+d] = outer.Number
		}
		lo += PointersPerSector * PointersPerSector
	}

	return updater.contentSectors, nil
}
