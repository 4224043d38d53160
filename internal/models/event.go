package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrUnknownEventType = errors.New("unknown event type")

type EventType string

const (
	EventEnrollmentCreated   EventType = "enrollment.created"
	EventEnrollmentCompleted EventType = "enrollment.completed"
	EventPaymentSucceeded    EventType = "payment.succeeded"
	EventPaymentFailed       EventType = "payment.failed"
	EventStudentCreated      EventType = "student.created"
	EventQuizCompleted       EventType = "quiz.completed"
	EventCertificateIssued   EventType = "certificate.issued"
)

var eventTypes = []EventType{
	EventEnrollmentCreated,
	EventEnrollmentCompleted,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventStudentCreated,
	EventQuizCompleted,
	EventCertificateIssued,
}

// EventTypes returns every event type a webhook can subscribe to.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

func (e EventType) Valid() bool {
	for _, known := range eventTypes {
		if e == known {
			return true
		}
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	e := EventType(s)
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return e, nil
}

// ParseEventTypes parses and de-duplicates a subscription list.
func ParseEventTypes(values []string) ([]EventType, error) {
	out := make([]EventType, 0, len(values))
	seen := make(map[EventType]struct{}, len(values))
	for _, v := range values {
		e, err := ParseEventType(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// DeliveryEvent is the immutable value handed to the dispatcher.
type DeliveryEvent struct {
	Type EventType
	Data EventData
}

type Field struct {
	Key   string
	Value json.RawMessage
}

// EventData is a JSON object that keeps its top-level key order, so the
// serialized payload matches what the producer handed in. Values are kept as
// compact raw JSON.
type EventData struct {
	fields []Field
}

func ParseEventData(b []byte) (EventData, error) {
	var d EventData
	if err := d.UnmarshalJSON(b); err != nil {
		return EventData{}, err
	}
	return d, nil
}

// Set marshals value and stores it under key. An existing key keeps its
// position.
func (d *EventData) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("event data %q: %w", key, err)
	}
	d.setRaw(key, raw)
	return nil
}

func (d *EventData) setRaw(key string, raw json.RawMessage) {
	for i := range d.fields {
		if d.fields[i].Key == key {
			d.fields[i].Value = raw
			return
		}
	}
	d.fields = append(d.fields, Field{Key: key, Value: raw})
}

func (d EventData) Get(key string) (json.RawMessage, bool) {
	for _, f := range d.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (d EventData) Keys() []string {
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

func (d EventData) Len() int {
	return len(d.fields)
}

func (d EventData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *EventData) UnmarshalJSON(b []byte) error {
	d.fields = nil
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("event data: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("event data: expected a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("event data: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("event data: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("event data %q: %w", key, err)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return fmt.Errorf("event data %q: %w", key, err)
		}
		d.setRaw(key, json.RawMessage(compact.Bytes()))
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("event data: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("event data: unexpected content after object")
	}
	return nil
}
