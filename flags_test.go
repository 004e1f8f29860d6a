package v7fs_test

import (
	"testing"

	"github.com/dargueta/v7fs"
	"github.com/stretchr/testify/assert"
)

func TestFormatMode(t *testing.T) {
	testCases := []struct {
		mode     uint16
		expected string
	}{
		{v7fs.DefaultDirectoryMode, "drwxr-xr-x"},
		{v7fs.DefaultFileMode, "-rw-r--r--"},
		{v7fs.S_IFREG | v7fs.S_IRWXU | v7fs.S_ISUID, "-rws------"},
		{v7fs.S_IFREG | v7fs.S_IRUSR | v7fs.S_ISGID, "-r-----S--"},
		{v7fs.S_IFDIR | v7fs.S_IRWXU | v7fs.S_IRWXG | v7fs.S_IRWXO | v7fs.S_ISVTX, "drwxrwxrwt"},
		{0, "?---------"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, v7fs.FormatMode(tc.mode))
		})
	}
}
