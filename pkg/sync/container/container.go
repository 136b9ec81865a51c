// Package container implements the binary format used to batch files, along
// with the names the sender couldn't supply, into a single payload.
//
// All integers are little-endian:
//
//	u16 missingCount
//	missingCount * { u8 nameLen, nameLen bytes name }
//	repeated until EOF { u32 size, u8 nameLen, nameLen bytes name, size bytes data }
//
// The format has no checksum, version, or framing beyond the length
// prefixes. Changing the shape of an entry breaks compatibility with
// existing peers.
package container

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
)

// ContentType is the HTTP content type that marks a container payload.
const ContentType = "application/octet-stream"

const (
	// MaxMissing is the largest missing set that fits in the count field.
	MaxMissing = math.MaxUint16

	// MaxEntrySize is the largest file that fits in the size field.
	MaxEntrySize = math.MaxUint32
)

var (
	// ErrNameLength is returned when encoding a name that's empty or longer
	// than sync.MaxNameLength bytes. Names are never truncated.
	ErrNameLength = errors.New("name must be between 1 and 255 bytes")

	// ErrTooManyMissing is returned when encoding more than MaxMissing
	// missing names.
	ErrTooManyMissing = errors.New("too many missing names")

	// ErrEntryTooLarge is returned when encoding a file larger than
	// MaxEntrySize.
	ErrEntryTooLarge = errors.New("entry too large")
)

// Encode returns the container holding `missing` and `entries`. A nil
// missing set is encoded as an empty one.
func Encode(missing sync.NameSet, entries []sync.FileEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, missing, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes the container to `w`. Everything is validated before the
// first byte is written, so a rejected container leaves `w` untouched.
func Write(w io.Writer, missing sync.NameSet, entries []sync.FileEntry) error {
	if len(missing) > MaxMissing {
		return errors.WithContext(ErrTooManyMissing, fmt.Sprintf("%d names", len(missing)))
	}

	missingNames := missing.Sorted()
	for _, name := range missingNames {
		if err := checkName(name); err != nil {
			return errors.WithContext(err, "missing name")
		}
	}

	for _, f := range entries {
		if err := checkName(f.Name); err != nil {
			return errors.WithContext(err, "entry name")
		}
		if uint64(len(f.Data)) > MaxEntrySize {
			return errors.WithContext(ErrEntryTooLarge, fmt.Sprintf("%q", f.Name))
		}
	}

	bw := bufio.NewWriter(w)
	var header [4]byte
	binary.LittleEndian.PutUint16(header[:2], uint16(len(missingNames)))
	if _, err := bw.Write(header[:2]); err != nil {
		return errors.WithContext(err, "write missing count")
	}

	for _, name := range missingNames {
		if err := writeName(bw, name); err != nil {
			return errors.WithContext(err, "write missing name")
		}
	}

	for _, f := range entries {
		binary.LittleEndian.PutUint32(header[:], uint32(len(f.Data)))
		if _, err := bw.Write(header[:]); err != nil {
			return errors.WithContext(err, "write size")
		}

		if err := writeName(bw, f.Name); err != nil {
			return errors.WithContext(err, "write name")
		}

		if _, err := bw.Write(f.Data); err != nil {
			return errors.WithContext(err, "write data")
		}
	}
	return bw.Flush()
}

func checkName(name string) error {
	if len(name) == 0 || len(name) > sync.MaxNameLength {
		return errors.WithContext(ErrNameLength, fmt.Sprintf("%d bytes", len(name)))
	}
	return nil
}

func writeName(w io.Writer, name string) error {
	if _, err := w.Write([]byte{uint8(len(name))}); err != nil {
		return err
	}
	_, err := io.WriteString(w, name)
	return err
}

// Decode parses a container. Entries are returned in the order they were
// encountered.
func Decode(data []byte) (sync.NameSet, []sync.FileEntry, error) {
	return Read(bytes.NewReader(data))
}

// Read parses a container from `r`, consuming it until EOF.
//
// Input that ends exactly where the next entry would start terminates
// the container. Input that ends anywhere else, or a name that isn't valid
// UTF-8, results in an error matching errors.ErrMalformedContainer.
func Read(r io.Reader) (sync.NameSet, []sync.FileEntry, error) {
	br := bufio.NewReader(r)

	var header [4]byte
	if _, err := io.ReadFull(br, header[:2]); err != nil {
		return nil, nil, malformed(err, "read missing count")
	}

	missingCount := int(binary.LittleEndian.Uint16(header[:2]))
	missing := sync.NameSet{}
	for i := 0; i < missingCount; i++ {
		name, err := readName(br)
		if err != nil {
			return nil, nil, errors.WithContext(err, fmt.Sprintf("missing name %d", i))
		}
		missing.Add(name)
	}

	var entries []sync.FileEntry
	for {
		_, err := io.ReadFull(br, header[:])
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, malformed(err, fmt.Sprintf("entry %d: read size", len(entries)))
		}
		size := binary.LittleEndian.Uint32(header[:])

		name, err := readName(br)
		if err != nil {
			return nil, nil, errors.WithContext(err, fmt.Sprintf("entry %d", len(entries)))
		}

		// Grow the buffer as data arrives rather than trusting the size
		// field, so that a truncated payload can't force a huge allocation.
		var data bytes.Buffer
		n, err := io.CopyN(&data, br, int64(size))
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, nil, malformed(err, fmt.Sprintf("entry %q: read data (%d of %d bytes)",
				name, n, size))
		}
		entries = append(entries, sync.FileEntry{Name: name, Data: data.Bytes()})
	}
	return missing, entries, nil
}

func readName(r *bufio.Reader) (string, error) {
	nameLen, err := r.ReadByte()
	if err != nil {
		return "", malformed(err, "read name length")
	}

	if nameLen == 0 {
		return "", errors.WithContext(errors.ErrMalformedContainer, "empty name")
	}

	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return "", malformed(err, "read name")
	}

	if !utf8.Valid(nameBytes) {
		return "", errors.WithContext(errors.ErrMalformedContainer, "name is not valid UTF-8")
	}
	return string(nameBytes), nil
}

// malformed converts a short read into ErrMalformedContainer. Other read
// errors come from the underlying reader, and are passed through.
func malformed(err error, context string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = errors.ErrMalformedContainer
	}
	return errors.WithContext(err, context)
}
