// Package blockstore provides raw, uncached access to a disk image made of
// fixed-size blocks (sectors). Besides whole blocks it can read and write byte
// ranges and fixed-size binary records at arbitrary offsets, as long as they
// lie entirely inside the image.
//
// All block indices begin at 0.

package blockstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dargueta/v7fs"
	c "github.com/dargueta/v7fs/file_systems/common"
	"github.com/noxer/bytewriter"
)

// BlockStore is safe for concurrent use. Every access is a seek followed by a
// read or write on the underlying stream, and the pair is done under a lock.
type BlockStore struct {
	lock          sync.Mutex
	stream        io.ReadWriteSeeker
	bytesPerBlock uint
	totalBlocks   uint
}

// WrapStream creates a [BlockStore] over any [io.ReadWriteSeeker]. The stream
// must already be at least `bytesPerBlock * totalBlocks` bytes long.
func WrapStream(stream io.ReadWriteSeeker, bytesPerBlock uint, totalBlocks uint) *BlockStore {
	return &BlockStore{
		stream:        stream,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// Open opens the image file at `path` for reading and writing, creating it if
// it doesn't exist. If the file is shorter than `minBlocks` blocks it's
// extended with null bytes. The store's size is the file's size rounded down
// to a whole number of blocks.
func Open(path string, bytesPerBlock uint, minBlocks uint) (*BlockStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, v7fs.ErrIOFailed.Wrap(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, v7fs.ErrIOFailed.Wrap(err)
	}

	totalBlocks := uint(info.Size() / int64(bytesPerBlock))
	if totalBlocks < minBlocks {
		err = file.Truncate(int64(minBlocks) * int64(bytesPerBlock))
		if err != nil {
			file.Close()
			return nil, v7fs.ErrIOFailed.Wrap(err)
		}
		totalBlocks = minBlocks
	}

	return WrapStream(file, bytesPerBlock, totalBlocks), nil
}

// Close closes the underlying stream if it implements [io.Closer].
func (store *BlockStore) Close() error {
	store.lock.Lock()
	defer store.lock.Unlock()

	if closer, ok := store.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// BytesPerBlock returns the size of a single block, in bytes.
func (store *BlockStore) BytesPerBlock() uint {
	return store.bytesPerBlock
}

// TotalBlocks returns the size of the image, in blocks.
func (store *BlockStore) TotalBlocks() uint {
	return store.totalBlocks
}

// Size gives the size of the image, in bytes (not blocks!).
func (store *BlockStore) Size() int64 {
	return int64(store.bytesPerBlock) * int64(store.totalBlocks)
}

// Resize changes the number of blocks in the image. The underlying stream must
// implement [common.Truncator]. New blocks are filled with null bytes.
func (store *BlockStore) Resize(newTotalBlocks uint) error {
	store.lock.Lock()
	defer store.lock.Unlock()

	truncator, ok := store.stream.(c.Truncator)
	if !ok {
		return v7fs.ErrInvalidArgument.WithMessage("image stream can't be resized")
	}

	err := truncator.Truncate(int64(newTotalBlocks) * int64(store.bytesPerBlock))
	if err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	store.totalBlocks = newTotalBlocks
	return nil
}

// checkBounds verifies that `size` bytes can be accessed starting at byte
// `offset`. If not, it returns an error describing the exact conditions.
func (store *BlockStore) checkBounds(offset int64, size int) error {
	if offset < 0 || offset+int64(size) > store.Size() {
		return v7fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"can't access %d bytes at offset %d; range not in [0, %d)",
				size,
				offset,
				store.Size(),
			),
		)
	}
	return nil
}

func (store *BlockStore) blockOffset(block uint) int64 {
	return int64(block) * int64(store.bytesPerBlock)
}

// ReadAt fills `buffer` with the bytes beginning at byte `offset` of the image.
func (store *BlockStore) ReadAt(buffer []byte, offset int64) error {
	if err := store.checkBounds(offset, len(buffer)); err != nil {
		return err
	}

	store.lock.Lock()
	defer store.lock.Unlock()

	if _, err := store.stream.Seek(offset, io.SeekStart); err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	if _, err := io.ReadFull(store.stream, buffer); err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// WriteAt writes the contents of `buffer` to the image beginning at byte
// `offset`.
func (store *BlockStore) WriteAt(buffer []byte, offset int64) error {
	if err := store.checkBounds(offset, len(buffer)); err != nil {
		return err
	}

	store.lock.Lock()
	defer store.lock.Unlock()

	if _, err := store.stream.Seek(offset, io.SeekStart); err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	if _, err := store.stream.Write(buffer); err != nil {
		return v7fs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadBlock fills `buffer` with data beginning at the start of block `block`.
// `buffer` may be shorter than a block but must not extend past the end of the
// image.
func (store *BlockStore) ReadBlock(block uint, buffer []byte) error {
	if block >= store.totalBlocks {
		return invalidBlockError(block, store.totalBlocks)
	}
	return store.ReadAt(buffer, store.blockOffset(block))
}

// WriteBlock writes `buffer` beginning at the start of block `block`.
func (store *BlockStore) WriteBlock(block uint, buffer []byte) error {
	if block >= store.totalBlocks {
		return invalidBlockError(block, store.totalBlocks)
	}
	return store.WriteAt(buffer, store.blockOffset(block))
}

// ZeroBlocks fills the blocks in [start, start + count) with null bytes.
func (store *BlockStore) ZeroBlocks(start, count uint) error {
	if start+count > store.totalBlocks {
		return invalidBlockError(start+count-1, store.totalBlocks)
	}
	return store.WriteAt(
		make([]byte, int(count*store.bytesPerBlock)), store.blockOffset(start))
}

// ReadRecord decodes a fixed-size little-endian record from byte `offset`
// into `record`, which must be a pointer to a value [binary.Size] accepts.
func (store *BlockStore) ReadRecord(offset int64, record any) error {
	size := binary.Size(record)
	if size < 0 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%T is not a fixed-size record", record))
	}

	buffer := make([]byte, size)
	if err := store.ReadAt(buffer, offset); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buffer), binary.LittleEndian, record)
}

// WriteRecord encodes `record` as a fixed-size little-endian record and writes
// it at byte `offset`.
func (store *BlockStore) WriteRecord(offset int64, record any) error {
	buffer, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return store.WriteAt(buffer, offset)
}

// EncodeRecord serializes a fixed-size record into a new buffer of exactly
// [binary.Size] bytes.
func EncodeRecord(record any) ([]byte, error) {
	size := binary.Size(record)
	if size < 0 {
		return nil, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%T is not a fixed-size record", record))
	}

	buffer := make([]byte, size)
	writer := bytewriter.New(buffer)
	if err := binary.Write(writer, binary.LittleEndian, record); err != nil {
		return nil, v7fs.ErrInvalidArgument.Wrap(err)
	}
	return buffer, nil
}

func invalidBlockError(block, totalBlocks uint) error {
	return v7fs.ErrArgumentOutOfRange.WithMessage(
		fmt.Sprintf("invalid block number: %d not in range [0, %d)", block, totalBlocks),
	)
}
