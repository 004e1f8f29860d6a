package testing

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// Create an image with the given number of blocks and bytes per block. It is
// guaranteed to either return a valid slice or fail the test and abort.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}

// CreateDefaultStore creates a block store over an in-memory image.
//
// Arguments:
//
//   - bytesPerBlock: The number of bytes in a single block.
//   - totalBlocks: The number of blocks in the image.
//   - backingData: Optional. A byte slice of exactly `bytesPerBlock * totalBlocks`
//     bytes that is used as the image. Writes through the store modify it. You
//     can pass `nil` for this to get completely random data.
//   - `t`: The testing fixture.
func CreateDefaultStore(
	bytesPerBlock,
	totalBlocks uint,
	backingData []byte,
	t *testing.T,
) *blockstore.BlockStore {
	if backingData == nil {
		backingData = CreateRandomImage(bytesPerBlock, totalBlocks, t)
	}
	require.EqualValues(
		t,
		bytesPerBlock*totalBlocks,
		len(backingData),
		"backing data is the wrong size",
	)

	store := blockstore.WrapStream(
		bytesextra.NewReadWriteSeeker(backingData), bytesPerBlock, totalBlocks)
	assert.EqualValues(t, bytesPerBlock, store.BytesPerBlock(), "wrong bytes per block")
	assert.EqualValues(t, totalBlocks, store.TotalBlocks(), "wrong total blocks")
	assert.EqualValues(t, bytesPerBlock*totalBlocks, store.Size(), "total size is wrong")
	return store
}
