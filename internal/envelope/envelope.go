// Package envelope defines the messages carried by the sync channel.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"tasksync/internal/model"
)

var ErrMalformed = errors.New("malformed envelope")

// Kind is the wire type tag.
type Kind string

const (
	KindTasks         Kind = "tasks_snapshot"
	KindNotifications Kind = "notifications_snapshot"
	KindProfiles      Kind = "profiles_snapshot"
	KindHeartbeat     Kind = "heartbeat"
)

// KindFor returns the snapshot kind of a collection.
func KindFor(c model.Collection) (Kind, bool) {
	switch c {
	case model.CollectionTasks:
		return KindTasks, true
	case model.CollectionNotifications:
		return KindNotifications, true
	case model.CollectionProfiles:
		return KindProfiles, true
	}
	return "", false
}

// Collection returns the collection a snapshot kind describes.
func (k Kind) Collection() (model.Collection, bool) {
	switch k {
	case KindTasks:
		return model.CollectionTasks, true
	case KindNotifications:
		return model.CollectionNotifications, true
	case KindProfiles:
		return model.CollectionProfiles, true
	}
	return "", false
}

// Payload is the closed set of envelope bodies.
type Payload interface {
	Kind() Kind
	payload()
}

type TasksSnapshot struct {
	Items []model.Task `json:"items"`
}

type NotificationsSnapshot struct {
	Items []model.Notification `json:"items"`
}

type ProfilesSnapshot struct {
	Items []model.Profile `json:"items"`
}

// MarshalJSON leaves secret numbers out. They are member credentials and
// never travel over the channel.
func (s ProfilesSnapshot) MarshalJSON() ([]byte, error) {
	type plain ProfilesSnapshot
	items := make([]model.Profile, len(s.Items))
	for i, p := range s.Items {
		p.SecretNumber = ""
		items[i] = p
	}
	return json.Marshal(plain{Items: items})
}

type Heartbeat struct{}

func (TasksSnapshot) Kind() Kind         { return KindTasks }
func (NotificationsSnapshot) Kind() Kind { return KindNotifications }
func (ProfilesSnapshot) Kind() Kind      { return KindProfiles }
func (Heartbeat) Kind() Kind             { return KindHeartbeat }

func (TasksSnapshot) payload()         {}
func (NotificationsSnapshot) payload() {}
func (ProfilesSnapshot) payload()      {}
func (Heartbeat) payload()             {}

// Meta is attached by the channel on broadcast.
type Meta struct {
	ID        string
	Timestamp int64
	Origin    string
	Device    string
}

type Envelope struct {
	Meta
	Payload Payload
}

func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type wire struct {
	Type      Kind            `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Origin    string          `json:"origin"`
	Device    string          `json:"device,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(wire{
		Type:      e.Kind(),
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Origin:    e.Origin,
		Device:    e.Device,
		Data:      data,
	})
}

// Decode parses raw strictly. Anything that does not match a known variant
// exactly yields ErrMalformed.
func Decode(raw []byte) (Envelope, error) {
	var w wire
	if err := strictUnmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.ID == "" || w.Origin == "" {
		return Envelope{}, fmt.Errorf("%w: missing id or origin", ErrMalformed)
	}
	if w.Timestamp <= 0 {
		return Envelope{}, fmt.Errorf("%w: non-positive timestamp", ErrMalformed)
	}

	var p Payload
	var err error
	switch w.Type {
	case KindTasks:
		var s TasksSnapshot
		err = decodeSnapshot(w.Data, &s, &s.Items)
		p = s
	case KindNotifications:
		var s NotificationsSnapshot
		err = decodeSnapshot(w.Data, &s, &s.Items)
		p = s
	case KindProfiles:
		var s ProfilesSnapshot
		err = decodeSnapshot(w.Data, &s, &s.Items)
		p = s
	case KindHeartbeat:
		var hb Heartbeat
		if len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), []byte("null")) {
			err = strictUnmarshal(w.Data, &hb)
		}
		p = hb
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s data: %v", ErrMalformed, w.Type, err)
	}

	return Envelope{
		Meta: Meta{
			ID:        w.ID,
			Timestamp: w.Timestamp,
			Origin:    w.Origin,
			Device:    w.Device,
		},
		Payload: p,
	}, nil
}

// decodeSnapshot requires an object with an items array; an empty collection
// is an explicit [] rather than a missing field.
func decodeSnapshot[T any](data json.RawMessage, dst any, items *[]T) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := strictUnmarshal(data, dst); err != nil {
		return err
	}
	if *items == nil {
		var raw struct {
			Items json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(data, &raw)
		if !bytes.Equal(bytes.TrimSpace(raw.Items), []byte("[]")) {
			return errors.New("missing items")
		}
		*items = []T{}
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
