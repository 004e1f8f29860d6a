// Package compression packs image files for storage or transfer.
//
// An image is mostly null sectors until it fills up, so it's run-length
// encoded with RLE8 first and the result is gzipped. RLE8 writes a byte that
// occurs N >= 2 times in a row twice, followed by an unsigned byte giving the
// number of further repetitions:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// Runs longer than 257 bytes are split into several runs.
package compression

import (
	"compress/gzip"
	"io"

	"github.com/dargueta/v7fs"
)

// PackImage compresses the raw image read from `input` and writes it to
// `output`. It returns the size of the raw image.
func PackImage(input io.Reader, output io.Writer) (int64, error) {
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return 0, err
	}

	size, err := EncodeRLE8(input, gzWriter)
	if closeErr := gzWriter.Close(); closeErr != nil {
		err = v7fs.AppendCleanupError(err, v7fs.ErrIOFailed.Wrap(closeErr))
	}
	return size, err
}

// UnpackImage reverses [PackImage]. It returns the size of the raw image
// written to `output`.
func UnpackImage(input io.Reader, output io.Writer) (int64, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return 0, v7fs.ErrInvalidArgument.Wrap(err)
	}
	defer gzReader.Close()
	return DecodeRLE8(gzReader, output)
}
