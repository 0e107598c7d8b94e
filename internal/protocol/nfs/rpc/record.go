package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FragmentHeader is the 4-byte record marking header (RFC 5531 Section 11).
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads and decodes one record marking header.
func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}
	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header & fragmentLenMask,
	}, nil
}

// ReadRecord reads fragments until the last one and returns the reassembled
// record.
func ReadRecord(r io.Reader) ([]byte, error) {
	var record []byte
	for {
		header, err := ReadFragmentHeader(r)
		if err != nil {
			return nil, err
		}
		if header.Length > MaxFragmentSize {
			return nil, fmt.Errorf("fragment size %d exceeds maximum %d", header.Length, MaxFragmentSize)
		}
		if len(record)+int(header.Length) > MaxRecordSize {
			return nil, fmt.Errorf("record size exceeds maximum %d", MaxRecordSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// WriteRecord writes data as a single last fragment.
func WriteRecord(w io.Writer, data []byte) error {
	if len(data) > fragmentLenMask {
		return fmt.Errorf("record too large: %d", len(data))
	}
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, lastFragmentBit|uint32(len(data)))
	copy(out[4:], data)
	_, err := w.Write(out)
	return err
}
