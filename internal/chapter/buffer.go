package chapter

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrSlotFilled    = errors.New("segment slot already filled")
	ErrBufferNotFull = errors.New("segment buffer is missing segments")
)

// SegmentBuffer holds one slot per segment ordinal. A slot is written once and
// the buffer is write-ready only when every slot is filled.
type SegmentBuffer struct {
	mu     sync.Mutex
	slots  [][]byte
	filled []bool
	count  int
}

func NewSegmentBuffer(size int) *SegmentBuffer {
	return &SegmentBuffer{
		slots:  make([][]byte, size),
		filled: make([]bool, size),
	}
}

func (b *SegmentBuffer) Put(index int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.slots) {
		return fmt.Errorf("segment index %d out of range [0,%d)", index, len(b.slots))
	}
	if b.filled[index] {
		return fmt.Errorf("segment %d: %w", index, ErrSlotFilled)
	}
	if data == nil {
		data = []byte{}
	}
	b.slots[index] = data
	b.filled[index] = true
	b.count++
	return nil
}

func (b *SegmentBuffer) Len() int {
	return len(b.slots)
}

func (b *SegmentBuffer) Filled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *SegmentBuffer) Ready() bool {
	return b.Filled() == len(b.slots)
}

// WriteTo writes every slot in ordinal order. It refuses to write a partial
// buffer.
func (b *SegmentBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count != len(b.slots) {
		return 0, fmt.Errorf("%w: %d of %d", ErrBufferNotFull, b.count, len(b.slots))
	}
	var total int64
	for i, data := range b.slots {
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("error writing segment %d: %w", i, err)
		}
	}
	return total, nil
}
