package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Entity is a domain record held in the LocalStore.
// Fields always contains "id", equal to ID.
type Entity struct {
	Kind   EntityKind
	ID     string
	Fields Payload
}

// NewEntity builds an entity, stamping id into its fields.
func NewEntity(kind EntityKind, id string, fields Payload) Entity {
	f := fields.Clone()
	if f == nil {
		f = Payload{}
	}
	f["id"] = id
	return Entity{Kind: kind, ID: id, Fields: f}
}

// IsTemporary reports whether the entity still carries a frontend id.
func (e Entity) IsTemporary() bool {
	return IsFrontendID(e.ID)
}

// EncodeEntity serializes entity fields for storage.
func EncodeEntity(e Entity) ([]byte, error) {
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s/%s: %w", e.Kind, e.ID, err)
	}
	return data, nil
}

// DecodeEntity parses stored entity fields. Numbers decode as json.Number
// so server identifiers survive unchanged.
func DecodeEntity(kind EntityKind, key string, data []byte) (Entity, error) {
	fields, err := DecodePayload(data)
	if err != nil {
		return Entity{}, fmt.Errorf("decode entity %s/%s: %w", kind, key, err)
	}
	return Entity{Kind: kind, ID: key, Fields: fields}, nil
}

// DecodePayload parses a JSON object preserving numbers as json.Number.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// IDString renders a server-supplied identifier as a storage key.
// Integral numbers render without a fractional part.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		return id.String(), id.String() != ""
	case float64:
		if id != math.Trunc(id) {
			return "", false
		}
		return strconv.FormatInt(int64(id), 10), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case fmt.Stringer:
		s := id.String()
		return s, s != ""
	default:
		return "", false
	}
}
