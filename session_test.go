package v7fs_test

import (
	"testing"

	"github.com/dargueta/v7fs"
	"github.com/stretchr/testify/assert"
)

func TestMemorySession__StartsAtHome(t *testing.T) {
	session := v7fs.NewMemorySession(v7fs.Account{UserID: 5, GroupID: 7, HomeInode: 12})
	account := session.Account()
	assert.EqualValues(t, 12, account.CurrentInode)
	assert.Equal(t, 5, account.UserID)
	assert.Equal(t, 7, account.GroupID)
}

func TestMemorySession__SetCurrentDirectory(t *testing.T) {
	session := v7fs.NewSuperUserSession(1)
	assert.NoError(t, session.SetCurrentDirectory(42))
	assert.EqualValues(t, 42, session.Account().CurrentInode)
	assert.EqualValues(t, 1, session.Account().HomeInode)

	err := session.SetCurrentDirectory(0)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
	assert.EqualValues(t, 42, session.Account().CurrentInode)
}

func TestFSStat__FreeSpace(t *testing.T) {
	stat := v7fs.FSStat{BlockSize: 512, TotalBlocks: 16384, BlocksFree: 4096}
	assert.EqualValues(t, 4096*512, stat.FreeBytes())
	assert.InDelta(t, 0.25, stat.FreeRatio(), 1e-9)
	assert.Zero(t, v7fs.FSStat{}.FreeRatio())
}
