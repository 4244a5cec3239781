package event

import (
	"sort"
	"time"
)

// Less is the replay order: timestamp ascending, then client_id, then type.
//
// The tie-breakers make the order total over any set of distinct events, so
// two devices holding the same set replay it identically no matter in which
// order the events reached their local logs.
func Less(a, b Event) bool {
	return lessAt(a, a.Time(), b, b.Time())
}

func lessAt(a Event, at time.Time, b Event, bt time.Time) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if a.ClientID != b.ClientID {
		return a.ClientID < b.ClientID
	}
	return a.Type < b.Type
}

// Sorted returns a copy of events in replay order. The input is not modified.
func Sorted(events []Event) []Event {
	type keyed struct {
		ev Event
		at time.Time
	}
	tmp := make([]keyed, len(events))
	for i, ev := range events {
		tmp[i] = keyed{ev: ev, at: ev.Time()}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		return lessAt(tmp[i].ev, tmp[i].at, tmp[j].ev, tmp[j].at)
	})

	out := make([]Event, len(tmp))
	for i, k := range tmp {
		out[i] = k.ev
	}
	return out
}
