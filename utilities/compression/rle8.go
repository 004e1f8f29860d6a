package compression

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dargueta/v7fs"
)

// maxRepeat is the largest number of extra repetitions one run can encode.
const maxRepeat = 255

// EncodeRLE8 run-length encodes `input` until it's exhausted. It returns the
// number of bytes read from `input`.
func EncodeRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	sink := bufio.NewWriter(output)
	totalRead := int64(0)

	emit := func(value byte, count int) error {
		for count >= 2 {
			extra := count - 2
			if extra > maxRepeat {
				extra = maxRepeat
			}
			if _, err := sink.Write([]byte{value, value, byte(extra)}); err != nil {
				return err
			}
			count -= extra + 2
		}
		if count == 1 {
			return sink.WriteByte(value)
		}
		return nil
	}

	var current byte
	count := 0
	for {
		value, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return totalRead, v7fs.ErrIOFailed.Wrap(err)
		}
		totalRead++

		if count > 0 && value == current {
			count++
			continue
		}
		if err = emit(current, count); err != nil {
			return totalRead, v7fs.ErrIOFailed.Wrap(err)
		}
		current = value
		count = 1
	}

	if err := emit(current, count); err != nil {
		return totalRead, v7fs.ErrIOFailed.Wrap(err)
	}
	if err := sink.Flush(); err != nil {
		return totalRead, v7fs.ErrIOFailed.Wrap(err)
	}
	return totalRead, nil
}

// DecodeRLE8 expands RLE8-encoded `input`. It returns the number of bytes
// written to `output`.
func DecodeRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	sink := bufio.NewWriter(output)
	totalWritten := int64(0)
	previous := -1

	for {
		value, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return totalWritten, v7fs.ErrIOFailed.Wrap(err)
		}

		repeats := 1
		if int(value) == previous {
			extra, err := source.ReadByte()
			if errors.Is(err, io.EOF) {
				return totalWritten, v7fs.ErrInvalidArgument.Wrap(
					fmt.Errorf(
						"%w: missing repeat count after two %02x bytes",
						io.ErrUnexpectedEOF,
						value,
					),
				)
			} else if err != nil {
				return totalWritten, v7fs.ErrIOFailed.Wrap(err)
			}

			// The first byte of the pair was already written.
			repeats = int(extra) + 1
			previous = -1
		} else {
			previous = int(value)
		}

		for i := 0; i < repeats; i++ {
			if err = sink.WriteByte(value); err != nil {
				return totalWritten, v7fs.ErrIOFailed.Wrap(err)
			}
		}
		totalWritten += int64(repeats)
	}

	if err := sink.Flush(); err != nil {
		return totalWritten, v7fs.ErrIOFailed.Wrap(err)
	}
	return totalWritten, nil
}
