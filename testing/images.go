package testing

import (
	"testing"
	"time"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TinyGeometry is small enough that tests can fill it up: 48 inode slots and
// 256 data sectors.
var TinyGeometry = v7.Geometry{DataStartSector: 8, DataSectors: 256}

// FixedTime is the clock used by mounted test images.
func FixedTime() time.Time {
	return time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC)
}

// CreateBlankImage returns a zeroed image big enough for `geometry`, along with
// a block store over it.
func CreateBlankImage(t *testing.T, geometry v7.Geometry) ([]byte, *blockstore.BlockStore) {
	totalSectors := uint(geometry.TotalSectors())
	image := make([]byte, totalSectors*v7.SectorSize)
	store := CreateDefaultStore(v7.SectorSize, totalSectors, image, t)
	return image, store
}

// MountOptions gives mount options for tests: logs go to the test log and the
// clock is frozen at [FixedTime].
func MountOptions(t *testing.T, geometry v7.Geometry) v7.Options {
	return v7.Options{
		Geometry: geometry,
		Logger:   zaptest.NewLogger(t),
		Now:      FixedTime,
	}
}

// MountBlankImage formats a new in-memory image and mounts it. The image is
// checked for leaked checkouts and consistency when the test ends.
func MountBlankImage(t *testing.T, geometry v7.Geometry) *v7.FileSystem {
	_, store := CreateBlankImage(t, geometry)
	return MountStore(t, store, geometry)
}

// MountStore mounts an existing store, formatting it if needed. The image is
// checked for leaked checkouts and consistency when the test ends.
func MountStore(t *testing.T, store *blockstore.BlockStore, geometry v7.Geometry) *v7.FileSystem {
	fs, err := v7.Mount(store, MountOptions(t, geometry))
	require.NoError(t, err, "failed to mount image")

	t.Cleanup(func() {
		if t.Failed() {
			return
		}
		RequireNoCheckouts(t, fs)
		report, err := fs.Check()
		require.NoError(t, err, "consistency check failed")
		require.Truef(t, report.Consistent(), "image is inconsistent: %+v", report)
	})
	return fs
}

// RequireNoCheckouts fails the test if any sector or inode is still checked
// out.
func RequireNoCheckouts(t *testing.T, fs *v7.FileSystem) {
	sectors, inodes := fs.Allocator().CheckedOut()
	require.Zero(t, sectors, "sectors still checked out")
	require.Zero(t, inodes, "inodes still checked out")
}

// NewSuperUserManager creates a file manager for a super-user session rooted at
// the root directory.
func NewSuperUserManager(fs *v7.FileSystem) *v7.FileManager {
	return fs.NewFileManager(v7fs.NewSuperUserSession(v7.RootInode))
}
