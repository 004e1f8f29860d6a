package v7

import (
	"time"
)

// DiskInode is the 64-byte on-disk inode record.
//
//	Offset  Size  Field
//	0       2     Mode
//	2       2     LinkCount
//	4       2     UserID (0 means the slot is free)
//	6       2     GroupID
//	8       4     Size
//	12      40    Address[10]
//	52      4     AccessTime (unix seconds)
//	56      4     ModifyTime (unix seconds)
//	60      4     reserved
type DiskInode struct {
	Mode       uint16
	LinkCount  int16
	UserID     int16
	GroupID    int16
	Size       int32
	Address    [AddressSlots]int32
	AccessTime uint32
	ModifyTime uint32
	Reserved   [4]byte
}

// IsFree returns true if the slot isn't allocated to any file.
func (inode *DiskInode) IsFree() bool {
	return inode.UserID == 0
}

// Clear resets the record to the state of a free slot.
func (inode *DiskInode) Clear() {
	*inode = DiskInode{}
}

func (inode *DiskInode) Touch(now time.Time) {
	inode.AccessTime = uint32(now.Unix())
	inode.ModifyTime = inode.AccessTime
}

////////////////////////////////////////////////////////////////////////////////

// Inode is a checked-out inode: a decoded copy of the on-disk record that the
// holder has exclusive use of until it calls [Inode.Release]. Changes are only
// written back by [Allocator.UpdateInode].
type Inode struct {
	DiskInode
	Number    int32
	allocator *Allocator
	released  bool
}

// Release gives up the checkout. It's safe to call more than once, so the
// usual pattern is to `defer inode.Release()` right after checking it out.
func (inode *Inode) Release() {
	if inode == nil || inode.released {
		return
	}
	inode.released = true
	inode.allocator.PutInode(inode.Number)
}

// FileSize returns the size of the file, in bytes.
func (inode *Inode) FileSize() int64 {
	return int64(inode.Size)
}
