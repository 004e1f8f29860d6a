package v7

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dargueta/v7fs"
)

const DirectoryEntrySize = 32
const MaxNameLength = 28
const EntriesPerSector = SectorSize / DirectoryEntrySize

// Names of the entries every directory except the root has for itself and its
// parent.
const SelfEntryName = "./"
const ParentEntryName = "../"

// DirectoryEntry is the on-disk record linking a name to an inode. A
// directory's content is a packed array of these. Directory names end in a
// slash; file names don't.
type DirectoryEntry struct {
	InodeNumber int32
	RawName     [MaxNameLength]byte
}

// NewDirectoryEntry creates an entry, failing if `name` won't fit.
func NewDirectoryEntry(inode int32, name string) (DirectoryEntry, error) {
	entry := DirectoryEntry{InodeNumber: inode}
	if len(name) > MaxNameLength {
		return entry, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("name %q is %d bytes, maximum is %d", name, len(name), MaxNameLength))
	}
	if strings.IndexByte(name, 0) >= 0 {
		return entry, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("name %q contains a null byte", name))
	}
	copy(entry.RawName[:], name)
	return entry, nil
}

// Name returns the entry's name without the null padding.
func (entry DirectoryEntry) Name() string {
	end := bytes.IndexByte(entry.RawName[:], 0)
	if end < 0 {
		end = MaxNameLength
	}
	return string(entry.RawName[:end])
}

// IsDirectory returns true if the entry names a directory.
func (entry DirectoryEntry) IsDirectory() bool {
	return IsDirectoryPath(entry.Name())
}

// IsDotEntry returns true for the self and parent entries.
func (entry DirectoryEntry) IsDotEntry() bool {
	name := entry.Name()
	return name == SelfEntryName || name == ParentEntryName
}

// decodeEntries decodes as many whole entries as `buffer` holds.
func decodeEntries(buffer []byte) ([]DirectoryEntry, error) {
	entries := make([]DirectoryEntry, len(buffer)/DirectoryEntrySize)
	err := binary.Read(bytes.NewReader(buffer), binary.LittleEndian, entries)
	if err != nil {
		return nil, v7fs.ErrIOFailed.Wrap(err)
	}
	return entries, nil
}
