package remote

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roach88/grove/internal/event"
)

// DecodeRow rebuilds the event carried by row.
//
// Older clients wrote type and timestamp only as columns, newer ones only
// inside the payload, and some wrote numbers as strings. Fields are read one
// by one so every shape decodes; payload values win over columns. The result
// is not validated.
func DecodeRow(row Row) (event.Event, error) {
	if len(row.Payload) > 0 && !gjson.ValidBytes(row.Payload) {
		return event.Event{}, fmt.Errorf("row %d: payload is not valid JSON", row.ID)
	}
	p := gjson.ParseBytes(row.Payload)
	if len(row.Payload) > 0 && !p.IsObject() {
		return event.Event{}, fmt.Errorf("row %d: payload is not an object", row.ID)
	}
	// Some writers nested the event one level deeper.
	if inner := p.Get("payload"); inner.IsObject() && !p.Get("type").Exists() {
		p = inner
	}

	str := func(path, fallback string) string {
		if v := p.Get(path); v.Exists() && v.Type != gjson.Null {
			return strings.TrimSpace(v.String())
		}
		return fallback
	}

	ev := event.Event{
		Type:      event.Type(str("type", row.Type)),
		Timestamp: str("timestamp", row.ClientTimestamp),
		ClientID:  str("client_id", row.ClientID),

		EntityID: str("entity_id", ""),
		Title:    str("title", ""),
		ChildID:  str("child_id", ""),
		ParentID: str("parent_id", ""),
		Name:     str("name", ""),
		Note:     str("note", ""),
		Text:     p.Get("text").String(),

		Cost:          p.Get("cost").Float(),
		Result:        int(p.Get("result").Int()),
		CapacityDelta: p.Get("capacity_delta").Float(),
		Refund:        p.Get("refund").Float(),
	}
	return ev, nil
}
