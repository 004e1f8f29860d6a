package v7_test

import (
	"strings"
	"testing"

	"github.com/dargueta/v7fs"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths__Helpers(t *testing.T) {
	assert.True(t, v7.IsDirectoryPath("/a/b/"))
	assert.False(t, v7.IsDirectoryPath("/a/b"))
	assert.True(t, v7.IsAbsolutePath("/a"))
	assert.False(t, v7.IsAbsolutePath("a/"))

	assert.Equal(t, "a/", v7.ToDirectoryPath("a"))
	assert.Equal(t, "a/", v7.ToDirectoryPath("a/"))
	assert.Equal(t, "/a", v7.ToFilePath("/a//"))

	assert.Equal(t, []string{"a", "b", "c"}, v7.SplitPath("//a/b//c/"))
	assert.Empty(t, v7.SplitPath("/"))

	assert.Equal(t, "c", v7.BaseName("/a/b/c/"))
	assert.Equal(t, "", v7.BaseName("/"))
}

func TestDirectoryEntry__Names(t *testing.T) {
	entry, err := v7.NewDirectoryEntry(12, "bin/")
	require.NoError(t, err)
	assert.Equal(t, "bin/", entry.Name())
	assert.True(t, entry.IsDirectory())
	assert.False(t, entry.IsDotEntry())

	dots, err := v7.NewDirectoryEntry(1, v7.ParentEntryName)
	require.NoError(t, err)
	assert.True(t, dots.IsDotEntry())

	full, err := v7.NewDirectoryEntry(3, strings.Repeat("x", v7.MaxNameLength))
	require.NoError(t, err)
	assert.Len(t, full.Name(), v7.MaxNameLength, "names that fill the field have no terminator")

	_, err = v7.NewDirectoryEntry(3, strings.Repeat("x", v7.MaxNameLength+1))
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
	_, err = v7.NewDirectoryEntry(3, "nul\x00byte")
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}
