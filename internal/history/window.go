package history

import (
	"sort"
	"time"

	"github.com/simplesurance/labeltracker/internal/trackerr"
)

// Entry is one windowed history event together with the current snapshot
// of its entity.
type Entry[T any] struct {
	Event  Event
	Entity T
	Key    string
}

// Window returns the events with a timestamp >= cutoff, most recent first.
// Each entry references the current snapshot of its entity in items.
// An event referencing an unknown entity returns a CorruptHistoryError.
//
// The log is only sorted within the batch appended by one run, landing
// events carry detection time while transitions carry upstream time.
// Therefore the whole log is scanned instead of stopping at the first
// event older than cutoff.
func Window[T any](events []Event, items map[string]T, cutoff time.Time) ([]*Entry[T], error) {
	var result []*Entry[T]

	for _, ev := range events {
		if ev.Time.Before(cutoff) {
			continue
		}

		entity, exists := items[ev.EntityID]
		if !exists {
			return nil, trackerr.NewCorruptHistoryError(ev.EntityID)
		}

		result = append(result, &Entry[T]{
			Event:  ev,
			Entity: entity,
			Key:    ev.Key(),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[j].Event.Less(&result[i].Event)
	})

	return result, nil
}
