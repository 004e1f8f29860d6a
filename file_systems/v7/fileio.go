package v7

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"go.uber.org/zap"
)

// truncateChunkSize bounds the buffer used to zero-fill a growing file.
const truncateChunkSize = 64 * SectorSize

// OpenFile is an open file. Its inode stays checked out until it's closed, so
// only one open file can refer to a given inode at a time. The position always
// lies within [0, size].
type OpenFile struct {
	manager *FileManager
	inode   *Inode
	pointer int64
	closed  bool
}

func (file *OpenFile) checkOpen() error {
	if file.closed {
		return v7fs.ErrInvalidFileDescriptor.WithMessage("file is closed")
	}
	return nil
}

// Close releases the file's inode. Closing an already closed file does
// nothing.
func (file *OpenFile) Close() error {
	if file.closed {
		return nil
	}
	file.closed = true
	file.inode.Release()
	return nil
}

func (file *OpenFile) Size() int64 {
	return file.inode.FileSize()
}

func (file *OpenFile) InodeNumber() int32 {
	return file.inode.Number
}

// Tell returns the current position in the file.
func (file *OpenFile) Tell() int64 {
	return file.pointer
}

// Read implements [io.Reader]. Unlike [FileManager.ReadBytes], reading past
// the end of the file is not an error: it returns what's left, then [io.EOF].
func (file *OpenFile) Read(buffer []byte) (int, error) {
	if err := file.checkOpen(); err != nil {
		return 0, err
	}

	remaining := file.Size() - file.pointer
	if remaining <= 0 {
		return 0, io.EOF
	}
	count := int(min(int64(len(buffer)), remaining))
	if err := file.manager.ReadBytes(file, buffer[:count]); err != nil {
		return 0, err
	}
	return count, nil
}

// Write implements [io.Writer].
func (file *OpenFile) Write(data []byte) (int, error) {
	if err := file.manager.WriteBytes(file, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Seek implements [io.Seeker].
func (file *OpenFile) Seek(offset int64, whence int) (int64, error) {
	return file.manager.Seek(file, offset, whence)
}

////////////////////////////////////////////////////////////////////////////////

// Open opens an existing file for reading and writing, positioned at the
// beginning.
func (manager *FileManager) Open(path string) (*OpenFile, error) {
	_, entry, err := manager.resolveFile(path)
	if err != nil {
		return nil, err
	}

	inode, err := manager.alloc.GetInode(entry.InodeNumber)
	if err != nil {
		return nil, err
	}
	if inode.IsFree() {
		// Deleted between resolving the path and checking out the inode.
		inode.Release()
		return nil, v7fs.ErrNotFound.WithMessage(fmt.Sprintf("file %q not found", path))
	}
	return &OpenFile{manager: manager, inode: inode}, nil
}

// Close closes `file`.
func (manager *FileManager) Close(file *OpenFile) error {
	return file.Close()
}

// Seek moves the position of `file`. `whence` is one of [io.SeekStart],
// [io.SeekCurrent], or [io.SeekEnd]. The new position must lie within the file.
func (manager *FileManager) Seek(file *OpenFile, offset int64, whence int) (int64, error) {
	if err := file.checkOpen(); err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = file.pointer
	case io.SeekEnd:
		base = file.Size()
	default:
		return file.pointer, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid whence value %d", whence))
	}

	position := base + offset
	if position < 0 || position > file.Size() {
		return file.pointer, v7fs.ErrOutOfRange.WithMessage(
			fmt.Sprintf("can't seek to %d, file is %d bytes", position, file.Size()))
	}
	file.pointer = position
	return position, nil
}

// ReadBytes fills `buffer` from the current position and advances it. Reading
// past the end of the file fails with [v7fs.ErrOutOfRange] and reads nothing.
func (manager *FileManager) ReadBytes(file *OpenFile, buffer []byte) error {
	if err := file.checkOpen(); err != nil {
		return err
	}
	if err := manager.readAt(file.inode, file.pointer, buffer); err != nil {
		return err
	}
	file.pointer += int64(len(buffer))
	return nil
}

// WriteBytes writes `data` at the current position, growing the file if
// needed, and advances the position.
func (manager *FileManager) WriteBytes(file *OpenFile, data []byte) error {
	if err := file.checkOpen(); err != nil {
		return err
	}
	if err := manager.writeAt(file.inode, file.pointer, data); err != nil {
		return err
	}
	file.pointer += int64(len(data))
	return nil
}

// checkStructPlacement fails if a record of `size` bytes at the current
// position would cross a sector boundary.
func checkStructPlacement(file *OpenFile, size int) error {
	if size < 0 {
		return v7fs.ErrInvalidArgument.WithMessage("value has no fixed binary size")
	}
	if int(file.pointer%SectorSize)+size > SectorSize {
		return v7fs.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"%d-byte record at offset %d would cross a sector boundary",
				size,
				file.pointer,
			),
		)
	}
	return nil
}

// ReadStruct decodes a fixed-size little-endian record at the current position
// into `value`, which must be a pointer. The record must lie within one
// sector.
func (manager *FileManager) ReadStruct(file *OpenFile, value any) error {
	if err := file.checkOpen(); err != nil {
		return err
	}

	size := binary.Size(value)
	if err := checkStructPlacement(file, size); err != nil {
		return err
	}

	buffer := make([]byte, size)
	if err := manager.ReadBytes(file, buffer); err != nil {
		return err
	}
	err := binary.Read(bytes.NewReader(buffer), binary.LittleEndian, value)
	if err != nil {
		return v7fs.ErrInvalidArgument.Wrap(err)
	}
	return nil
}

// WriteStruct encodes `value` as a fixed-size little-endian record at the
// current position. The record must lie within one sector.
func (manager *FileManager) WriteStruct(file *OpenFile, value any) error {
	if err := file.checkOpen(); err != nil {
		return err
	}

	data, err := blockstore.EncodeRecord(value)
	if err != nil {
		return v7fs.ErrInvalidArgument.Wrap(err)
	}
	if err = checkStructPlacement(file, len(data)); err != nil {
		return err
	}
	return manager.WriteBytes(file, data)
}

// Truncate resizes `file`. Growing it fills the new space with zeros;
// shrinking it frees the sectors it no longer needs. The position is clamped
// to the new size.
func (manager *FileManager) Truncate(file *OpenFile, size int64) error {
	if err := file.checkOpen(); err != nil {
		return err
	}
	if size < 0 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("size can't be negative, got %d", size))
	}
	if err := checkFileSize(size); err != nil {
		return err
	}

	inode := file.inode
	oldSize := inode.FileSize()

	if size > oldSize {
		zeros := make([]byte, min(size-oldSize, truncateChunkSize))
		for position := oldSize; position < size; {
			chunk := zeros[:min(int64(len(zeros)), size-position)]
			if err := manager.writeAt(inode, position, chunk); err != nil {
				return err
			}
			position += int64(len(chunk))
		}
	} else if size < oldSize {
		cut, err := manager.checkoutCut(inode, size)
		if err != nil {
			return err
		}
		defer releaseSectors(cut)

		if err = manager.alloc.ClearSectors(cut...); err != nil {
			return err
		}
		inode.Size = int32(size)
		inode.ModifyTime = uint32(manager.now().Unix())
		if err = manager.alloc.UpdateInode(inode); err != nil {
			return err
		}
	}

	file.pointer = min(file.pointer, size)
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// readAt reads `buffer` from position `position` of a checked-out inode.
func (manager *FileManager) readAt(inode *Inode, position int64, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}

	size := inode.FileSize()
	if position < 0 || position+int64(len(buffer)) > size {
		return v7fs.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"can't read %d bytes at %d, file is %d bytes",
				len(buffer),
				position,
				size,
			),
		)
	}

	sectors, err := manager.checkoutSectors(inode, position, int64(len(buffer)), WalkContent)
	if err != nil {
		return err
	}
	defer releaseSectors(sectors)

	offset := int(position % SectorSize)
	remaining := buffer
	for _, sector := range sectors {
		count := min(SectorSize-offset, len(remaining))
		if err = manager.alloc.ReadSector(sector, offset, remaining[:count]); err != nil {
			return err
		}
		remaining = remaining[count:]
		offset = 0
	}
	return nil
}

// writeAt writes `data` at position `position` of a checked-out inode, which
// must not be past the end of the file.
func (manager *FileManager) writeAt(inode *Inode, position int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	size := inode.FileSize()
	if position < 0 || position > size {
		return v7fs.ErrOutOfRange.WithMessage(
			fmt.Sprintf("can't write at %d, file is %d bytes", position, size))
	}

	sectors, err := manager.prepareWrite(inode, position, int64(len(data)))
	if err != nil {
		return err
	}
	defer releaseSectors(sectors)

	offset := int(position % SectorSize)
	remaining := data
	var scratch []byte
	for _, sector := range sectors {
		count := min(SectorSize-offset, len(remaining))
		if count == SectorSize {
			err = manager.alloc.WriteSector(sector, 0, remaining[:count])
		} else {
			// Partial sector: keep what's around the written range.
			if scratch == nil {
				scratch = make([]byte, SectorSize)
			}
			if err = manager.alloc.ReadSector(sector, 0, scratch); err != nil {
				return err
			}
			copy(scratch[offset:], remaining[:count])
			err = manager.alloc.WriteSector(sector, 0, scratch)
		}
		if err != nil {
			return err
		}
		remaining = remaining[count:]
		offset = 0
	}

	inode.ModifyTime = uint32(manager.now().Unix())
	return manager.alloc.UpdateInode(inode)
}

// prepareWrite checks out the content sectors for writing `length` bytes at
// `position`, first growing the file if the write extends past its end. The
// inode's size is updated and persisted before any data is written.
func (manager *FileManager) prepareWrite(
	inode *Inode, position, length int64,
) ([]*Sector, error) {
	oldSize := inode.FileSize()
	newSize := max(position+length, oldSize)
	if err := checkFileSize(newSize); err != nil {
		return nil, err
	}

	oldCount, err := SectorCount(oldSize)
	if err != nil {
		return nil, err
	}
	newCount, err := SectorCount(newSize)
	if err != nil {
		return nil, err
	}

	existing, err := manager.checkoutSectors(inode, position, length, WalkContent)
	if err != nil {
		return nil, err
	}

	if newCount == oldCount {
		if newSize != oldSize {
			inode.Size = int32(newSize)
			if err = manager.alloc.UpdateInode(inode); err != nil {
				inode.Size = int32(oldSize)
				releaseSectors(existing)
				return nil, err
			}
		}
		return existing, nil
	}

	newSectors := make([]*Sector, 0, newCount-oldCount)
	fail := func(err error) ([]*Sector, error) {
		cleanupErr := manager.alloc.ClearSectors(newSectors...)
		releaseSectors(newSectors)
		releaseSectors(existing)
		return nil, v7fs.AppendCleanupError(err, cleanupErr)
	}

	for len(newSectors) < newCount-oldCount {
		sector, err := manager.alloc.GetFreeSector()
		if err != nil {
			return fail(err)
		}
		newSectors = append(newSectors, sector)
	}

	addressSectors, err := manager.checkoutSectors(inode, 0, -1, WalkIndex)
	if err != nil {
		return fail(err)
	}
	defer releaseSectors(addressSectors)

	previousAddress := inode.Address
	content, err := UpdateAddress(
		manager.alloc, &inode.Address, newSize, oldSize, newSectors, addressSectors)
	if err != nil {
		inode.Address = previousAddress
		if errors.Is(err, v7fs.ErrAddressMismatch) {
			manager.logger.DPanic(
				"address update rejected its sectors",
				zap.Int32("inode", inode.Number),
				zap.Int64("old_size", oldSize),
				zap.Int64("new_size", newSize),
				zap.Int32s("new_sectors", sectorNumbers(newSectors)),
				zap.Error(err),
			)
		}
		return fail(err)
	}

	inode.Size = int32(newSize)
	if err = manager.alloc.UpdateInode(inode); err != nil {
		inode.Address = previousAddress
		inode.Size = int32(oldSize)
		return fail(err)
	}

	// The sectors after the new content sectors became index sectors and
	// aren't needed anymore.
	releaseSectors(newSectors[len(content):])
	return append(existing, content...), nil
}
