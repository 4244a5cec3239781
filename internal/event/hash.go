package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows algorithm migration.
const (
	DomainEvent = "grove/event/v1"
	DomainState = "grove/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the domain-separated hash of v's canonical JSON.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// Fields returns the event as a canonical-JSON-ready map, omitting zero
// optional fields the same way the wire form does.
func (e Event) Fields() map[string]any {
	m := map[string]any{
		"type":      string(e.Type),
		"timestamp": e.Timestamp,
	}
	putString := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	putFloat := func(k string, v float64) {
		if v != 0 {
			m[k] = v
		}
	}
	putString("client_id", e.ClientID)
	putString("entity_id", e.EntityID)
	putString("title", e.Title)
	putString("child_id", e.ChildID)
	putString("parent_id", e.ParentID)
	putString("name", e.Name)
	putString("note", e.Note)
	putString("text", e.Text)
	putFloat("cost", e.Cost)
	putFloat("capacity_delta", e.CapacityDelta)
	putFloat("refund", e.Refund)
	if e.Result != 0 {
		m["result"] = e.Result
	}
	return m
}

// ContentDigest identifies an event by content. Two events with equal
// digests are the same logical fact.
func (e Event) ContentDigest() (string, error) {
	return Digest(DomainEvent, e.Fields())
}
