package model

import (
	"sort"
	"time"
)

// Snapshot is the entire known world at one instant: every tracked entity and
// its position. Snapshots are immutable; a new one replaces, never merges with,
// the previous one. The zero value is an empty snapshot.
type Snapshot struct {
	positions map[EntityID]Position
	timestamp time.Time
}

// NewSnapshot copies positions into a new Snapshot produced at ts.
func NewSnapshot(positions map[EntityID]Position, ts time.Time) Snapshot {
	cp := make(map[EntityID]Position, len(positions))
	for id, pos := range positions {
		cp[id] = pos
	}
	return Snapshot{positions: cp, timestamp: ts}
}

// Timestamp is when the producer generated the snapshot. It is zero when the
// producer did not report one.
func (s Snapshot) Timestamp() time.Time { return s.timestamp }

// Len returns the number of entities.
func (s Snapshot) Len() int { return len(s.positions) }

// Get returns the position of id.
func (s Snapshot) Get(id EntityID) (Position, bool) {
	pos, ok := s.positions[id]
	return pos, ok
}

// IDs returns the entity IDs in ascending order.
func (s Snapshot) IDs() []EntityID {
	ids := make([]EntityID, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Range calls fn for every entity in ascending ID order until fn returns false.
func (s Snapshot) Range(fn func(id EntityID, pos Position) bool) {
	for _, id := range s.IDs() {
		if !fn(id, s.positions[id]) {
			return
		}
	}
}
