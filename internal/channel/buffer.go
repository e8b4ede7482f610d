package channel

import (
	"iter"
	"sort"
)

// Sample is one value recorded for a channel at a dispatch cycle.
type Sample struct {
	Index uint64  `json:"index"`
	Value float64 `json:"value"`
}

// Buffer is an append-only, index-ordered sequence of samples. With a positive
// capacity the oldest sample is evicted once the buffer is full.
type Buffer struct {
	capacity int
	head     int
	samples  []Sample
}

// NewBuffer returns an empty buffer. capacity <= 0 means unbounded.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{capacity: capacity}
}

// Append records value at index and returns how many samples were evicted to
// make room. Callers must supply strictly increasing indices.
func (b *Buffer) Append(index uint64, value float64) int {
	b.samples = append(b.samples, Sample{Index: index, Value: value})
	if b.capacity == 0 || b.Len() <= b.capacity {
		return 0
	}
	b.head++
	// compact once the dead prefix outgrows the live window
	if b.head >= b.capacity {
		n := copy(b.samples, b.samples[b.head:])
		clear(b.samples[n:])
		b.samples = b.samples[:n]
		b.head = 0
	}
	return 1
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	return len(b.samples) - b.head
}

// Capacity returns the configured capacity (0 when unbounded).
func (b *Buffer) Capacity() int {
	return b.capacity
}

// First returns the oldest retained sample.
func (b *Buffer) First() (Sample, bool) {
	if b.Len() == 0 {
		return Sample{}, false
	}
	return b.samples[b.head], true
}

// Last returns the newest sample.
func (b *Buffer) Last() (Sample, bool) {
	if b.Len() == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Iterate yields the samples whose index lies in [from, to], oldest first.
// The sequence is lazy and may be ranged over repeatedly; it never mutates
// the buffer.
func (b *Buffer) Iterate(from, to uint64) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		if from > to {
			return
		}
		live := b.samples[b.head:]
		start := sort.Search(len(live), func(i int) bool { return live[i].Index >= from })
		for _, s := range live[start:] {
			if s.Index > to {
				return
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Slice copies the samples in [from, to].
func (b *Buffer) Slice(from, to uint64) []Sample {
	var out []Sample
	for s := range b.Iterate(from, to) {
		out = append(out, s)
	}
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	clear(b.samples)
	b.samples = b.samples[:0]
	b.head = 0
}
