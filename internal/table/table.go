// Package table implements the entry table behind the image cache.
//
// Entries are kept in insertion order, which is also creation order while
// CreatedAt values arrive non-decreasing. If a clock steps backwards the
// table falls back to scanning for the minimum CreatedAt until it empties.
// Every removal path (Remove, RemoveOldest, Purge, and overwrite in
// Put) goes through a single callback, which keeps the running byte total
// exact and lets the owner release whatever the entry holds.
package table

import (
	"math"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is one cached image.
type Entry struct {
	Key         string
	Handle      string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// RemoveFunc is called once for every entry leaving the table.
type RemoveFunc func(Entry)

// Table is a creation-ordered map of entries with a running byte total.
// Table is not safe for concurrent use; callers serialize access.
type Table struct {
	items    *simplelru.LRU[string, Entry]
	size     int64
	onRemove RemoveFunc

	// newest is the latest CreatedAt seen; unordered is set once an entry
	// arrives with an earlier CreatedAt than newest.
	newest    time.Time
	unordered bool
}

// New creates an empty table. onRemove may be nil.
func New(onRemove RemoveFunc) *Table {
	t := &Table{onRemove: onRemove}

	// The LRU is unbounded by count; byte capacity is enforced by the owner.
	items, err := simplelru.NewLRU[string, Entry](math.MaxInt, t.removed)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	t.items = items
	return t
}

func (t *Table) removed(_ string, e Entry) {
	t.size -= e.Size
	if t.onRemove != nil {
		t.onRemove(e)
	}
}

// Put inserts e as the newest entry. An existing entry for the same key is
// removed first, so its size is subtracted and onRemove sees it.
func (t *Table) Put(e Entry) {
	t.items.Remove(e.Key)
	t.reset()
	if t.items.Len() > 0 && e.CreatedAt.Before(t.newest) {
		t.unordered = true
	}
	if t.items.Len() == 0 || e.CreatedAt.After(t.newest) {
		t.newest = e.CreatedAt
	}
	t.items.Add(e.Key, e)
	t.size += e.Size
}

// reset clears ordering state once the table is empty.
func (t *Table) reset() {
	if t.items.Len() == 0 {
		t.newest = time.Time{}
		t.unordered = false
	}
}

// Get returns the entry for key without changing its position.
func (t *Table) Get(key string) (Entry, bool) {
	return t.items.Peek(key)
}

// Remove deletes the entry for key.
func (t *Table) Remove(key string) (Entry, bool) {
	e, ok := t.items.Peek(key)
	if !ok {
		return Entry{}, false
	}
	t.items.Remove(key)
	t.reset()
	return e, true
}

// Oldest returns the entry with the earliest CreatedAt. Ties go to the
// entry inserted first.
func (t *Table) Oldest() (Entry, bool) {
	if !t.unordered {
		_, e, ok := t.items.GetOldest()
		return e, ok
	}

	var (
		oldest Entry
		found  bool
	)
	for _, k := range t.items.Keys() {
		e, _ := t.items.Peek(k)
		if !found || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest, found = e, true
		}
	}
	return oldest, found
}

// RemoveOldest deletes and returns the entry with the earliest CreatedAt.
func (t *Table) RemoveOldest() (Entry, bool) {
	e, ok := t.Oldest()
	if !ok {
		return Entry{}, false
	}
	t.items.Remove(e.Key)
	t.reset()
	return e, true
}

// Entries returns a snapshot of all entries, oldest first.
func (t *Table) Entries() []Entry {
	keys := t.items.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := t.items.Peek(k); ok {
			out = append(out, e)
		}
	}
	if t.unordered {
		slices.SortStableFunc(out, func(a, b Entry) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
	return out
}

// Purge removes every entry.
func (t *Table) Purge() {
	t.items.Purge()
	t.reset()
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.items.Len()
}

// Size returns the sum of entry sizes.
func (t *Table) Size() int64 {
	return t.size
}
