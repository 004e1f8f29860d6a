package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/v7fs"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	"github.com/gocarina/gocsv"
)

////////////////////////////////////////////////////////////////////////////////
// Geometry

type ImageGeometry struct {
	Slug            string `csv:"slug"`
	Name            string `csv:"name"`
	DataStartSector int    `csv:"data_start_sector"`
	DataSectors     int    `csv:"data_sectors"`
	Notes           string `csv:"notes"`
}

// Geometry gives the layout to format an image with.
func (g *ImageGeometry) Geometry() v7.Geometry {
	return v7.Geometry{
		DataStartSector: g.DataStartSector,
		DataSectors:     g.DataSectors,
	}
}

// TotalSizeBytes gives the minimum size of the image file.
func (g *ImageGeometry) TotalSizeBytes() int64 {
	return int64(g.DataStartSector+g.DataSectors) * v7.SectorSize
}

////////////////////////////////////////////////////////////////////////////////

//go:embed image-geometries.csv
var imageGeometriesRawCSV string
var imageGeometries map[string]ImageGeometry

// DefaultSlug names the preset matching [v7.DefaultGeometry].
const DefaultSlug = "default"

func GetPredefinedGeometry(slug string) (ImageGeometry, error) {
	geometry, ok := imageGeometries[slug]
	if ok {
		return geometry, nil
	}

	return ImageGeometry{}, v7fs.ErrNotFound.WithMessage(
		fmt.Sprintf("no predefined image geometry exists with slug %q", slug))
}

// Slugs lists the names of all predefined geometries, sorted.
func Slugs() []string {
	slugs := make([]string, 0, len(imageGeometries))
	for slug := range imageGeometries {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func init() {
	reader := strings.NewReader(imageGeometriesRawCSV)
	csvReader := csv.NewReader(reader)
	csvReader.Comma = '|'

	var rows []ImageGeometry
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		panic(fmt.Errorf("failed to decode image geometries: %w", err))
	}

	imageGeometries = make(map[string]ImageGeometry)
	for i, row := range rows {
		_, exists := imageGeometries[row.Slug]
		if exists {
			message := fmt.Errorf(
				"duplicate definition for geometry %q found on row %d",
				row.Slug,
				i+1)
			panic(message)
		}
		if err := row.Geometry().Validate(); err != nil {
			panic(fmt.Errorf("geometry %q on row %d is invalid: %w", row.Slug, i+1, err))
		}
		imageGeometries[row.Slug] = row
	}
}
