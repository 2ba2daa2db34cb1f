package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Action is the transition an event records.
type Action string

const (
	ActionNew       Action = "new"
	ActionNewClosed Action = "new_closed"
	ActionClosed    Action = "closed"
	ActionNewMerged Action = "new_merged"
	ActionMerged    Action = "merged"
	ActionLanded    Action = "landed"
)

func (a Action) String() string {
	return string(a)
}

// Tag returns the feed title prefix for the action.
func (a Action) Tag() string {
	switch a {
	case ActionNew:
		return "[NEW]"
	case ActionNewClosed:
		return "[NEW][CLOSED]"
	case ActionClosed:
		return "[CLOSED]"
	case ActionNewMerged:
		return "[NEW][MERGED]"
	case ActionMerged:
		return "[MERGED]"
	case ActionLanded:
		return "[LANDED]"
	default:
		return fmt.Sprintf("[%s]", a)
	}
}

// Valid reports if a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNew, ActionNewClosed, ActionClosed, ActionNewMerged, ActionMerged, ActionLanded:
		return true
	default:
		return false
	}
}

// Event is one immutable transition of one entity.
type Event struct {
	Time     time.Time `json:"time"`
	EntityID string    `json:"id"`
	Action   Action    `json:"action"`
	// Channel is only set for ActionLanded.
	Channel string `json:"channel,omitempty"`
}

// Less orders events by time, entity id, action and channel.
func (e *Event) Less(other *Event) bool {
	if !e.Time.Equal(other.Time) {
		return e.Time.Before(other.Time)
	}

	if e.EntityID != other.EntityID {
		return e.EntityID < other.EntityID
	}

	if e.Action != other.Action {
		return e.Action < other.Action
	}

	return e.Channel < other.Channel
}

// Key returns the deduplication key of the event. It only depends on the
// event itself, repeated reads of an unchanged history return the same
// keys.
func (e *Event) Key() string {
	key := e.Time.UTC().Format(time.RFC3339Nano) + "/" + e.EntityID
	if e.Action == ActionLanded {
		key += "/landed/" + e.Channel
	}

	return key
}

func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event

	var ev plain
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	if !ev.Action.Valid() {
		return fmt.Errorf("unknown history action %q", ev.Action)
	}

	*e = Event(ev)

	return nil
}

// SortEvents sorts events in place into their canonical order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Less(&events[j])
	})
}

func marshalStrings(s []string) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalStrings(data []byte) ([]string, error) {
	var result []string
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}
