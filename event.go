package graphsync

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// EventKind is the wire type of a twin-change notification, following the
// event-type naming of the twin platform's change feed.
type EventKind string

const (
	TwinCreated         EventKind = "Microsoft.DigitalTwins.Twin.Create"
	TwinUpdated         EventKind = "Microsoft.DigitalTwins.Twin.Update"
	TwinDeleted         EventKind = "Microsoft.DigitalTwins.Twin.Delete"
	RelationshipCreated EventKind = "Microsoft.DigitalTwins.Relationship.Create"
	RelationshipUpdated EventKind = "Microsoft.DigitalTwins.Relationship.Update"
	RelationshipDeleted EventKind = "Microsoft.DigitalTwins.Relationship.Delete"
)

// PatchOp is one operation of a JSON-Patch-shaped update body. Path names
// the changed twin field ("/name", "/description", "/tags/values/pressure",
// "/latestValue", ...) without any container prefix.
type PatchOp struct {
	Op    string
	Path  string
	Value any
}

// TwinEvent is one change notification from the twin graph.
//
// Subject carries the twin ID for twin events and the relationship ID for
// relationship events. Twin is populated on TwinCreated, Patch on
// TwinUpdated, Relationship on the relationship kinds; delete events carry
// only the subject (plus endpoints on RelationshipDeleted, which arrive in
// Relationship).
type TwinEvent struct {
	Kind         EventKind
	Subject      string
	Model        Model
	Time         time.Time
	Twin         *Twin
	Patch        []PatchOp
	Relationship *TwinRelationship
}

func init() {
	// Patch values travel as interface values through gob.
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register(map[string]string{})
}

// EncodeEvent renders the event in the transport encoding of the change
// feed subscription.
func EncodeEvent(e TwinEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encode twin event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent inverts EncodeEvent.
func DecodeEvent(p []byte) (TwinEvent, error) {
	var e TwinEvent
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&e); err != nil {
		return TwinEvent{}, fmt.Errorf("decode twin event: %w", err)
	}
	return e, nil
}
