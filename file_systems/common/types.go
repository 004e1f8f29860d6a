// Package common contains definitions of fundamental types and functions used
// across the file system implementation.
package common

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

// UnitID is the index of a single allocatable unit, such as a sector or an
// inode slot.
type UnitID uint32
