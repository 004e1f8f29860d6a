// Package v7 implements a file system modeled on Unix Seventh Edition, stored
// in a flat image of 512-byte sectors.
//
// The image starts with a two-sector superblock holding the geometry, the free
// sector and inode counts, and a small user table. Inodes follow from sector 2
// up to the start of the data region, eight 64-byte records per sector. Inode
// 1 is the root directory; inode 0 is never used. A slot is free when its
// owner's user ID is zero.
//
// Each inode has ten address slots: six point straight at content sectors, two
// at single-indirect index sectors and two at double-indirect ones. An index
// sector holds 128 sector numbers. A directory is a file of 32-byte entries
// whose names end in a slash when they refer to subdirectories.
//
// There is no on-disk free list. Mounting walks everything reachable from the
// root and rebuilds the in-memory sector and inode maps from it. Every sector
// and inode in use by an operation is checked out exclusively through the
// [Allocator], and checking out something already held fails with
// [v7fs.ErrAlreadyLocked] instead of waiting.
package v7
