package disks_test

import (
	"testing"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/disks"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPredefinedGeometry__Default(t *testing.T) {
	geometry, err := disks.GetPredefinedGeometry(disks.DefaultSlug)
	require.NoError(t, err)
	assert.Equal(t, v7.DefaultGeometry, geometry.Geometry())
	assert.EqualValues(t, 17408*512, geometry.TotalSizeBytes())
}

func TestGetPredefinedGeometry__Missing(t *testing.T) {
	_, err := disks.GetPredefinedGeometry("zip-disk")
	assert.ErrorIs(t, err, v7fs.ErrNotFound)
}

func TestSlugs(t *testing.T) {
	assert.Equal(t, []string{"default", "large", "small", "tiny"}, disks.Slugs())
	for _, slug := range disks.Slugs() {
		geometry, err := disks.GetPredefinedGeometry(slug)
		require.NoError(t, err)
		assert.NoErrorf(t, geometry.Geometry().Validate(), "geometry %q", slug)
		assert.NotEmpty(t, geometry.Name)
	}
}
