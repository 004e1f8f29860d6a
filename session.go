package v7fs

import (
	"sync"
)

// MemorySession is a [Session] whose account lives only in memory. It's safe
// for concurrent use.
type MemorySession struct {
	lock    sync.Mutex
	account Account
}

// NewMemorySession creates a session for `account`. If the account's current
// directory is unset, the session starts in the home directory.
func NewMemorySession(account Account) *MemorySession {
	if account.CurrentInode == 0 {
		account.CurrentInode = account.HomeInode
	}
	return &MemorySession{account: account}
}

// NewSuperUserSession creates a session for the super-user, whose home is the
// directory with inode number `rootInode`.
func NewSuperUserSession(rootInode int32) *MemorySession {
	return NewMemorySession(
		Account{
			UserID:       SuperUserID,
			GroupID:      SuperUserID,
			HomeInode:    rootInode,
			CurrentInode: rootInode,
		},
	)
}

func (session *MemorySession) Account() Account {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.account
}

func (session *MemorySession) SetCurrentDirectory(inode int32) error {
	if inode <= 0 {
		return ErrInvalidArgument.WithMessage("invalid directory inode")
	}

	session.lock.Lock()
	defer session.lock.Unlock()
	session.account.CurrentInode = inode
	return nil
}
