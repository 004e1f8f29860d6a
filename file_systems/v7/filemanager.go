package v7

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/file_systems/common/blockstore"
	"go.uber.org/zap"
)

// FileManager performs file and directory operations on behalf of one
// session. Paths are resolved against the session's home and current
// directories. Any number of file managers can share a [FileSystem].
type FileManager struct {
	fs      *FileSystem
	alloc   *Allocator
	session v7fs.Session
	logger  *zap.Logger
}

// NewFileManager creates a file manager acting for `session`.
func (fs *FileSystem) NewFileManager(session v7fs.Session) *FileManager {
	return &FileManager{
		fs:      fs,
		alloc:   fs.allocator,
		session: session,
		logger:  fs.logger,
	}
}

func (manager *FileManager) now() time.Time {
	return manager.fs.now()
}

////////////////////////////////////////////////////////////////////////////////
// Sector plumbing

// readIndex reads an index sector, holding its checkout only for the read.
func (manager *FileManager) readIndex(number int32) (IndexBlock, error) {
	sector, err := manager.alloc.GetSector(number)
	if err != nil {
		return IndexBlock{}, err
	}
	defer sector.Release()
	return manager.alloc.ReadPointers(sector)
}

// checkoutSectors checks out the sectors `inode` uses for the byte range
// [start, start + length) at its current size, in walk order. On failure
// nothing stays checked out.
func (manager *FileManager) checkoutSectors(
	inode *Inode, start, length int64, mode WalkMode,
) ([]*Sector, error) {
	var sectors []*Sector
	err := WalkSectors(
		&inode.Address,
		inode.FileSize(),
		start,
		length,
		mode,
		manager.readIndex,
		func(ref SectorRef) error {
			sector, err := manager.alloc.GetSector(ref.Sector)
			if err != nil {
				return err
			}
			sectors = append(sectors, sector)
			return nil
		},
	)
	if err != nil {
		releaseSectors(sectors)
		return nil, err
	}
	return sectors, nil
}

// checkoutCut checks out every sector `inode` uses now but won't need once it
// shrinks to `newSize` bytes.
func (manager *FileManager) checkoutCut(inode *Inode, newSize int64) ([]*Sector, error) {
	newContent, err := ContentSectorCount(newSize)
	if err != nil {
		return nil, err
	}

	// Content sectors past the new end are never shared with the shorter
	// file, but index sectors straddling the new end are.
	kept := make(map[int32]struct{})
	err = WalkSectors(
		&inode.Address,
		newSize,
		0,
		-1,
		WalkIndex,
		manager.readIndex,
		func(ref SectorRef) error {
			kept[ref.Sector] = struct{}{}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	var cut []*Sector
	err = WalkSectors(
		&inode.Address,
		inode.FileSize(),
		int64(newContent)*SectorSize,
		-1,
		WalkAll,
		manager.readIndex,
		func(ref SectorRef) error {
			if _, isKept := kept[ref.Sector]; isKept {
				return nil
			}
			sector, err := manager.alloc.GetSector(ref.Sector)
			if err != nil {
				return err
			}
			cut = append(cut, sector)
			return nil
		},
	)
	if err != nil {
		releaseSectors(cut)
		return nil, err
	}
	return cut, nil
}

////////////////////////////////////////////////////////////////////////////////
// Directory entries

// readEntries decodes the entries of a checked-out directory, stopping after
// size / DirectoryEntrySize of them.
func (manager *FileManager) readEntries(
	directory *Inode, includeDotEntries bool,
) ([]DirectoryEntry, error) {
	remaining := int(directory.Size) / DirectoryEntrySize
	entries := make([]DirectoryEntry, 0, remaining)
	buffer := make([]byte, SectorSize)

	err := WalkSectors(
		&directory.Address,
		directory.FileSize(),
		0,
		-1,
		WalkContent,
		manager.readIndex,
		func(ref SectorRef) error {
			if remaining <= 0 {
				return nil
			}

			sector, err := manager.alloc.GetSector(ref.Sector)
			if err != nil {
				return err
			}
			defer sector.Release()

			count := min(remaining, EntriesPerSector)
			chunk := buffer[:count*DirectoryEntrySize]
			if err = manager.alloc.ReadSector(sector, 0, chunk); err != nil {
				return err
			}

			decoded, err := decodeEntries(chunk)
			if err != nil {
				return err
			}
			for _, entry := range decoded {
				if includeDotEntries || !entry.IsDotEntry() {
					entries = append(entries, entry)
				}
			}
			remaining -= count
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// getEntries checks out directory `number` just long enough to read its
// entries.
func (manager *FileManager) getEntries(
	number int32, includeDotEntries bool,
) ([]DirectoryEntry, error) {
	directory, err := manager.alloc.GetInode(number)
	if err != nil {
		return nil, err
	}
	defer directory.Release()
	return manager.readEntries(directory, includeDotEntries)
}

func findEntry(entries []DirectoryEntry, name string) (DirectoryEntry, bool) {
	for _, entry := range entries {
		if entry.Name() == name {
			return entry, true
		}
	}
	return DirectoryEntry{}, false
}

// appendEntry adds an entry to the end of a checked-out directory.
func (manager *FileManager) appendEntry(directory *Inode, entry DirectoryEntry) error {
	data, err := blockstore.EncodeRecord(&entry)
	if err != nil {
		return err
	}
	return manager.writeAt(directory, directory.FileSize(), data)
}

// removeEntry deletes the entry for inode `target` from a checked-out
// directory, moving every later entry down one slot, and frees any sectors the
// directory no longer needs.
func (manager *FileManager) removeEntry(directory *Inode, target int32) error {
	entries, err := manager.readEntries(directory, true)
	if err != nil {
		return err
	}

	index := -1
	for i, entry := range entries {
		if entry.InodeNumber == target {
			index = i
			break
		}
	}
	if index < 0 {
		return v7fs.ErrNotFound.WithMessage(
			fmt.Sprintf("directory %d has no entry for inode %d", directory.Number, target))
	}

	oldSize := directory.FileSize()
	newSize := oldSize - DirectoryEntrySize
	removedAt := int64(index) * DirectoryEntrySize

	var tail []byte
	if tailStart := removedAt + DirectoryEntrySize; tailStart < oldSize {
		tail = make([]byte, oldSize-tailStart)
		if err = manager.readAt(directory, tailStart, tail); err != nil {
			return err
		}
	}

	// Claim the sectors that are about to be freed before touching the
	// directory's content, so failing to get them leaves it intact.
	cut, err := manager.checkoutCut(directory, newSize)
	if err != nil {
		return err
	}
	defer releaseSectors(cut)

	if len(tail) > 0 {
		if err = manager.writeAt(directory, removedAt, tail); err != nil {
			return err
		}
	}

	if err = manager.alloc.ClearSectors(cut...); err != nil {
		return err
	}
	directory.Size = int32(newSize)
	directory.ModifyTime = uint32(manager.now().Unix())
	return manager.alloc.UpdateInode(directory)
}

////////////////////////////////////////////////////////////////////////////////
// Path resolution

// resolveDir returns the inode number of the directory `path` refers to. For
// paths without a trailing slash the last component is a file name and is
// ignored, giving the directory the file would be in.
func (manager *FileManager) resolveDir(path string) (int32, error) {
	if path == "" {
		return 0, v7fs.ErrInvalidArgument.WithMessage("empty path")
	}

	account := manager.session.Account()
	current := account.CurrentInode
	if IsAbsolutePath(path) {
		current = account.HomeInode
	}

	components := SplitPath(path)
	if !IsDirectoryPath(path) && len(components) > 0 {
		components = components[:len(components)-1]
	}

	for _, component := range components {
		entries, err := manager.getEntries(current, true)
		if err != nil {
			return 0, err
		}

		entry, found := findEntry(entries, ToDirectoryPath(component))
		if !found {
			return 0, v7fs.ErrNotFound.WithMessage(
				fmt.Sprintf("directory %q in path %q not found", component, path))
		}
		current = entry.InodeNumber
	}
	return current, nil
}

// resolveFile finds the directory entry for the file at `path`.
func (manager *FileManager) resolveFile(path string) (int32, DirectoryEntry, error) {
	if path == "" {
		return 0, DirectoryEntry{}, v7fs.ErrInvalidArgument.WithMessage("empty path")
	}
	if IsDirectoryPath(path) {
		return 0, DirectoryEntry{}, v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is a directory path", path))
	}

	parent, err := manager.resolveDir(path)
	if err != nil {
		return 0, DirectoryEntry{}, err
	}

	entries, err := manager.getEntries(parent, false)
	if err != nil {
		return 0, DirectoryEntry{}, err
	}

	entry, found := findEntry(entries, BaseName(path))
	if !found {
		return 0, DirectoryEntry{}, v7fs.ErrNotFound.WithMessage(
			fmt.Sprintf("file %q not found", path))
	}
	return parent, entry, nil
}

////////////////////////////////////////////////////////////////////////////////
// Creating things

// initInode stamps a newly claimed inode with its owner and type and writes
// it, which marks the slot as in use.
func (manager *FileManager) initInode(inode *Inode, mode uint16, links int16) error {
	account := manager.session.Account()
	if account.UserID <= 0 || account.UserID > math.MaxInt16 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid owner user ID %d", account.UserID))
	}
	if account.GroupID < 0 || account.GroupID > math.MaxInt16 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid owner group ID %d", account.GroupID))
	}

	inode.Clear()
	inode.Mode = mode
	inode.LinkCount = links
	inode.UserID = int16(account.UserID)
	inode.GroupID = int16(account.GroupID)
	inode.Touch(manager.now())
	return manager.alloc.UpdateInode(inode)
}

// createEntry adds an entry for a new inode named `name` to directory
// `parentNumber` and initializes the inode. Both stay checked out; the caller
// must release them.
func (manager *FileManager) createEntry(
	parentNumber int32, name string, mode uint16, links int16,
) (*Inode, *Inode, error) {
	parent, err := manager.alloc.GetInode(parentNumber)
	if err != nil {
		return nil, nil, err
	}

	entries, err := manager.readEntries(parent, true)
	if err != nil {
		parent.Release()
		return nil, nil, err
	}
	if _, exists := findEntry(entries, name); exists {
		parent.Release()
		return nil, nil, v7fs.ErrAlreadyExists.WithMessage(
			fmt.Sprintf("%q already exists", name))
	}

	inode, err := manager.alloc.GetEmptyInode()
	if err != nil {
		parent.Release()
		return nil, nil, err
	}

	fail := func(err error) (*Inode, *Inode, error) {
		inode.Release()
		parent.Release()
		return nil, nil, err
	}

	entry, err := NewDirectoryEntry(inode.Number, name)
	if err != nil {
		return fail(err)
	}
	if err = manager.appendEntry(parent, entry); err != nil {
		return fail(err)
	}
	if err = manager.initInode(inode, mode, links); err != nil {
		return fail(v7fs.AppendCleanupError(err, manager.removeEntry(parent, inode.Number)))
	}
	return parent, inode, nil
}

// CreateFile creates an empty file. The path must not end in a slash.
func (manager *FileManager) CreateFile(path string) error {
	if path == "" || IsDirectoryPath(path) {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is not a file path", path))
	}

	name, err := validateName(BaseName(path), false)
	if err != nil {
		return err
	}

	parentNumber, err := manager.resolveDir(path)
	if err != nil {
		return err
	}

	parent, inode, err := manager.createEntry(parentNumber, name, v7fs.DefaultFileMode, 1)
	if err != nil {
		return err
	}
	defer parent.Release()
	defer inode.Release()

	manager.logger.Debug(
		"created file", zap.String("path", path), zap.Int32("inode", inode.Number))
	return nil
}

// CreateDirectory creates an empty directory with self and parent entries.
// The path must end in a slash.
func (manager *FileManager) CreateDirectory(path string) error {
	if !IsDirectoryPath(path) {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is not a directory path", path))
	}

	name, err := validateName(BaseName(path), true)
	if err != nil {
		return err
	}

	parentNumber, err := manager.resolveDir(ToFilePath(path))
	if err != nil {
		return err
	}

	parent, inode, err := manager.createEntry(
		parentNumber, name, v7fs.DefaultDirectoryMode, 2)
	if err != nil {
		return err
	}
	defer parent.Release()
	defer inode.Release()

	self, _ := NewDirectoryEntry(inode.Number, SelfEntryName)
	err = manager.appendEntry(inode, self)
	if err == nil {
		up, _ := NewDirectoryEntry(parent.Number, ParentEntryName)
		err = manager.appendEntry(inode, up)
	}
	if err != nil {
		return v7fs.AppendCleanupError(err, manager.unlinkInode(parent, inode))
	}

	manager.logger.Debug(
		"created directory", zap.String("path", path), zap.Int32("inode", inode.Number))
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Deleting things

// removeInode unlinks inode `number` from directory `parentNumber` and frees
// the inode and every sector it uses.
func (manager *FileManager) removeInode(parentNumber, number int32) error {
	parent, err := manager.alloc.GetInode(parentNumber)
	if err != nil {
		return err
	}
	defer parent.Release()

	inode, err := manager.alloc.GetInode(number)
	if err != nil {
		return err
	}
	defer inode.Release()

	return manager.unlinkInode(parent, inode)
}

// unlinkInode removes the entry for `inode` from `parent`, then frees the
// inode and its sectors. Both must be checked out and stay that way.
func (manager *FileManager) unlinkInode(parent, inode *Inode) error {
	sectors, err := manager.checkoutSectors(inode, 0, -1, WalkAll)
	if err != nil {
		return err
	}
	defer releaseSectors(sectors)

	if err = manager.removeEntry(parent, inode.Number); err != nil {
		return err
	}
	if err = manager.alloc.ClearSectors(sectors...); err != nil {
		return err
	}

	inode.Clear()
	return manager.alloc.UpdateInode(inode)
}

// removeDirectory deletes directory `number`, which is listed in directory
// `parentNumber`. Children are deleted first, each one fully released before
// the next, so no checkout is held across the recursion.
func (manager *FileManager) removeDirectory(parentNumber, number int32, recursive bool) error {
	account := manager.session.Account()
	if number == RootInode || number == account.HomeInode {
		return v7fs.ErrInvalidArgument.WithMessage(
			"can't delete the root or home directory")
	}

	children, err := manager.getEntries(number, false)
	if err != nil {
		return err
	}
	if len(children) > 0 && !recursive {
		return v7fs.ErrNotEmpty.WithMessage(
			fmt.Sprintf("directory has %d entries", len(children)))
	}

	for _, child := range children {
		if child.IsDirectory() {
			err = manager.removeDirectory(number, child.InodeNumber, true)
		} else {
			err = manager.removeInode(number, child.InodeNumber)
		}
		if err != nil {
			return err
		}
	}
	return manager.removeInode(parentNumber, number)
}

// DeleteFile deletes a file. The path must not end in a slash.
func (manager *FileManager) DeleteFile(path string) error {
	parentNumber, entry, err := manager.resolveFile(path)
	if err != nil {
		return err
	}

	err = manager.removeInode(parentNumber, entry.InodeNumber)
	if err == nil {
		manager.logger.Debug(
			"deleted file", zap.String("path", path), zap.Int32("inode", entry.InodeNumber))
	}
	return err
}

// DeleteDirectory deletes a directory. Unless `recursive` is set, it must be
// empty. The root directory and the session's home directory can't be deleted.
func (manager *FileManager) DeleteDirectory(path string, recursive bool) error {
	path = ToDirectoryPath(path)
	switch BaseName(path) {
	case ".", "..":
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("can't delete %q through a dot entry", path))
	}

	number, err := manager.resolveDir(path)
	if err != nil {
		return err
	}

	account := manager.session.Account()
	if number == RootInode || number == account.HomeInode {
		return v7fs.ErrInvalidArgument.WithMessage(
			"can't delete the root or home directory")
	}

	parentNumber, err := manager.resolveDir(ToFilePath(path))
	if err != nil {
		return err
	}

	err = manager.removeDirectory(parentNumber, number, recursive)
	if err == nil {
		manager.logger.Debug(
			"deleted directory",
			zap.String("path", path),
			zap.Int32("inode", number),
			zap.Bool("recursive", recursive),
		)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////
// Queries

// GetEntries lists a directory. An empty path means the current directory.
func (manager *FileManager) GetEntries(path string, includeDotEntries bool) ([]DirectoryEntry, error) {
	number := manager.session.Account().CurrentInode
	if path != "" {
		var err error
		number, err = manager.resolveDir(ToDirectoryPath(path))
		if err != nil {
			return nil, err
		}
	}
	return manager.getEntries(number, includeDotEntries)
}

// FileExists returns true if `path` names an existing file.
func (manager *FileManager) FileExists(path string) (bool, error) {
	_, _, err := manager.resolveFile(path)
	if errors.Is(err, v7fs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DirectoryExists returns true if `path` names an existing directory. A
// trailing slash is optional.
func (manager *FileManager) DirectoryExists(path string) (bool, error) {
	_, err := manager.resolveDir(ToDirectoryPath(path))
	if errors.Is(err, v7fs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ChangeDirectory makes `path` the session's current directory.
func (manager *FileManager) ChangeDirectory(path string) error {
	number, err := manager.resolveDir(ToDirectoryPath(path))
	if err != nil {
		return err
	}
	return manager.session.SetCurrentDirectory(number)
}

// GetCurrentPath returns the absolute path of the current directory, following
// parent entries up to the home directory. If the current directory is not
// under the home directory, the path is relative to the root instead.
func (manager *FileManager) GetCurrentPath() (string, error) {
	account := manager.session.Account()
	current := account.CurrentInode
	var names []string

	for steps := 0; current != account.HomeInode; steps++ {
		if steps >= manager.fs.geometry.InodeSlots() {
			return "", v7fs.ErrFileSystemCorrupted.WithMessage("directory parent chain has a cycle")
		}

		entries, err := manager.getEntries(current, true)
		if err != nil {
			return "", err
		}
		up, found := findEntry(entries, ParentEntryName)
		if !found {
			// Only the root has no parent entry.
			break
		}

		siblings, err := manager.getEntries(up.InodeNumber, false)
		if err != nil {
			return "", err
		}

		name := ""
		for _, sibling := range siblings {
			if sibling.InodeNumber == current && sibling.IsDirectory() {
				name = sibling.Name()
				break
			}
		}
		if name == "" {
			return "", v7fs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("directory %d isn't listed in its parent %d", current, up.InodeNumber))
		}

		names = append(names, name)
		current = up.InodeNumber
	}

	var path strings.Builder
	path.WriteString("/")
	for i := len(names) - 1; i >= 0; i-- {
		path.WriteString(names[i])
	}
	return path.String(), nil
}

// Stat returns the metadata of the file or directory at `path`.
func (manager *FileManager) Stat(path string) (v7fs.FileStat, error) {
	var number int32
	var name string

	if path != "" && IsDirectoryPath(path) {
		var err error
		number, err = manager.resolveDir(path)
		if err != nil {
			return v7fs.FileStat{}, err
		}
		name = ToDirectoryPath(BaseName(path))
	} else {
		_, entry, err := manager.resolveFile(path)
		if err != nil {
			return v7fs.FileStat{}, err
		}
		number = entry.InodeNumber
		name = entry.Name()
	}

	inode, err := manager.alloc.GetInode(number)
	if err != nil {
		return v7fs.FileStat{}, err
	}
	defer inode.Release()
	return manager.statInode(inode, name)
}

func (manager *FileManager) statInode(inode *Inode, name string) (v7fs.FileStat, error) {
	blocks, err := SectorCount(inode.FileSize())
	if err != nil {
		return v7fs.FileStat{}, err
	}

	return v7fs.FileStat{
		Name:        name,
		InodeNumber: inode.Number,
		Mode:        inode.Mode,
		LinkCount:   int(inode.LinkCount),
		UserID:      int(inode.UserID),
		GroupID:     int(inode.GroupID),
		Size:        inode.FileSize(),
		Blocks:      blocks,
		AccessedAt:  time.Unix(int64(inode.AccessTime), 0),
		ModifiedAt:  time.Unix(int64(inode.ModifyTime), 0),
	}, nil
}
