package v7fs

import (
	"time"
)

// SuperUserID is the user and group ID that owns the root directory of a
// freshly formatted image.
const SuperUserID = 1

// Account describes the user a session acts on behalf of. Inode numbers refer
// to directories on the mounted image.
type Account struct {
	UserID       int
	GroupID      int
	HomeInode    int32
	CurrentInode int32
}

// Session is the interface the file manager consumes to find out who it is
// working for and where that user currently is.
type Session interface {
	// Account returns a snapshot of the session's account.
	Account() Account
	// SetCurrentDirectory persists the inode of the session's new working
	// directory after a successful change of directory.
	SetCurrentDirectory(inode int32) error
}

// FSStat is a summary of a mounted image's space usage.
type FSStat struct {
	VolumeID    string
	BlockSize   int
	TotalBlocks int
	// BlocksFree is the number of unallocated sectors in the data region.
	BlocksFree int
	Files      int
	FilesFree  int
	ModifiedAt time.Time
}

// FreeBytes gives the unallocated space in the data region, in bytes.
func (stat FSStat) FreeBytes() int64 {
	return int64(stat.BlocksFree) * int64(stat.BlockSize)
}

// FreeRatio gives the fraction of the data region that is unallocated, in
// the range [0, 1].
func (stat FSStat) FreeRatio() float64 {
	if stat.TotalBlocks == 0 {
		return 0
	}
	return float64(stat.BlocksFree) / float64(stat.TotalBlocks)
}

// FileStat is the metadata of a single file or directory.
type FileStat struct {
	Name        string
	InodeNumber int32
	Mode        uint16
	LinkCount   int
	UserID      int
	GroupID     int
	Size        int64
	// Blocks is the number of sectors the object occupies, including index
	// sectors.
	Blocks     int
	AccessedAt time.Time
	ModifiedAt time.Time
}

// IsDir returns true if the object is a directory.
func (stat FileStat) IsDir() bool {
	return IsDirectoryMode(stat.Mode)
}
