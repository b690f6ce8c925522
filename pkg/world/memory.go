package world

import (
	"slices"
	"time"
)

// EntryKind tags a memory entry as either something the player did or
// something the world narrated back.
type EntryKind string

const (
	EntryAction      EntryKind = "action"
	EntryObservation EntryKind = "observation"
)

const DefaultMemoryCapacity = 256

// Entry is one record in the rolling memory log.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HasTag reports whether the entry carries the given tag.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// MemoryRequest is the contract contributors use to slice the log for
// prompt assembly.
type MemoryRequest struct {
	ActionLimit      int      `json:"action_limit"`
	ObservationLimit int      `json:"observation_limit"`
	TagFilter        []string `json:"tag_filter,omitempty"`
}

// MemorySlice is the result of applying a MemoryRequest.
type MemorySlice struct {
	Actions      []Entry
	Observations []Entry
}

// MemoryLog is a bounded FIFO of tagged entries. Oldest entries are evicted
// past capacity.
type MemoryLog struct {
	capacity int
	entries  []Entry
}

func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLog{capacity: capacity}
}

func (l *MemoryLog) Capacity() int { return l.capacity }

func (l *MemoryLog) Len() int { return len(l.entries) }

// Append adds an entry, evicting the oldest when over capacity.
func (l *MemoryLog) Append(kind EntryKind, content string, tags ...string) {
	l.AppendEntry(Entry{
		Kind:      kind,
		Content:   content,
		Tags:      slices.Clone(tags),
		Timestamp: time.Now().UTC(),
	})
}

// AppendEntry adds a fully formed entry, preserving its timestamp.
func (l *MemoryLog) AppendEntry(entry Entry) {
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// LastN returns the most recent n entries of the given kind, oldest first.
func (l *MemoryLog) LastN(kind EntryKind, n int) []Entry {
	if n <= 0 {
		return nil
	}
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		if l.entries[i].Kind == kind {
			out = append(out, l.entries[i])
		}
	}
	slices.Reverse(out)
	return out
}

// FilterByTag returns every entry carrying the tag, oldest first.
func (l *MemoryLog) FilterByTag(tag string) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.HasTag(tag) {
			out = append(out, e)
		}
	}
	return out
}

// Slice applies a MemoryRequest: last-N actions and last-N observations,
// optionally restricted to entries carrying at least one requested tag.
func (l *MemoryLog) Slice(req MemoryRequest) MemorySlice {
	match := func(e Entry) bool {
		if len(req.TagFilter) == 0 {
			return true
		}
		for _, tag := range req.TagFilter {
			if e.HasTag(tag) {
				return true
			}
		}
		return false
	}

	collect := func(kind EntryKind, limit int) []Entry {
		if limit <= 0 {
			return nil
		}
		var out []Entry
		for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
			if l.entries[i].Kind == kind && match(l.entries[i]) {
				out = append(out, l.entries[i])
			}
		}
		slices.Reverse(out)
		return out
	}

	return MemorySlice{
		Actions:      collect(EntryAction, req.ActionLimit),
		Observations: collect(EntryObservation, req.ObservationLimit),
	}
}

// Entries returns a copy of the full log, oldest first.
func (l *MemoryLog) Entries() []Entry {
	return slices.Clone(l.entries)
}

// Restore replaces the log contents, trimming to capacity.
func (l *MemoryLog) Restore(entries []Entry) {
	l.entries = slices.Clone(entries)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Clone returns an independent copy of the log.
func (l *MemoryLog) Clone() *MemoryLog {
	return &MemoryLog{capacity: l.capacity, entries: slices.Clone(l.entries)}
}
