// Package blob implements the append-only blob store and the dense blob index
// of a segment.
//
// The store holds one record per (key, value) pair and hands back a Pointer
// for every write. The blob index maps the sequential id of a pair, which is
// its position in key order, to that Pointer.
package blob

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt indicates a record or file that fails validation
	ErrCorrupt = errors.New("blob: corrupt data")
	// ErrPointerOutOfRange indicates a pointer outside the store's data section
	ErrPointerOutOfRange = errors.New("blob: pointer out of range")
	// ErrIDOutOfRange indicates an id not present in the blob index
	ErrIDOutOfRange = errors.New("blob: id out of range")
	// ErrFinished is returned when writing after Finish
	ErrFinished = errors.New("blob: writer already finished")
)

// Pointer locates one record inside the blob store.
type Pointer struct {
	Offset uint64
	Length uint32
}

func (p Pointer) String() string {
	return fmt.Sprintf("blob@%d+%d", p.Offset, p.Length)
}

// end returns the offset one past the record
func (p Pointer) end() uint64 {
	return p.Offset + uint64(p.Length)
}
