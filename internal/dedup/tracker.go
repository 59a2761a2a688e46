// Package dedup detects repeated push events within a small per-table
// window. A repeat means two live hub connections deliver the same stream.
package dedup

import (
	"bytes"
	"encoding/json"
	"reflect"
)

const DefaultCapacity = 8

// Tuple is one raw event: hub name, method name, then the call arguments.
type Tuple []any

// Method returns the event name of a hub tuple, or "" when absent.
func (t Tuple) Method() string {
	if len(t) < 2 {
		return ""
	}
	s, _ := t[1].(string)
	return s
}

func (t Tuple) Equal(other Tuple) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if !elementEqual(t[i], other[i]) {
			return false
		}
	}
	return true
}

func elementEqual(a, b any) bool {
	ra, okA := a.(json.RawMessage)
	rb, okB := b.(json.RawMessage)
	if okA && okB {
		return bytes.Equal(ra, rb)
	}
	return reflect.DeepEqual(a, b)
}

// Tracker is not safe for concurrent use; the table manager serializes
// access under its own lock.
type Tracker struct {
	capacity int
	entries  []Tuple
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{capacity: capacity, entries: make([]Tuple, 0, capacity+1)}
}

func (t *Tracker) Register(tuple Tuple) {
	t.entries = append(t.entries, tuple)
	if len(t.entries) > t.capacity {
		t.entries = t.entries[len(t.entries)-t.capacity:]
	}
}

// HasDuplicates reports whether any two buffered tuples are equal.
func (t *Tracker) HasDuplicates() bool {
	for i := 0; i < len(t.entries); i++ {
		for j := i + 1; j < len(t.entries); j++ {
			if t.entries[i].Equal(t.entries[j]) {
				return true
			}
		}
	}
	return false
}

// Erase keeps only the tuples for which keep returns true.
func (t *Tracker) Erase(keep func(Tuple) bool) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = nil
	}
	t.entries = kept
}

func (t *Tracker) Len() int { return len(t.entries) }

func (t *Tracker) Entries() []Tuple {
	out := make([]Tuple, len(t.entries))
	copy(out, t.entries)
	return out
}
