package gonk

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampFormat renders UTC instants with microsecond precision and a
// trailing Z. Event timestamps are advisory; append order is authoritative.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in the canonical event timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a canonical event timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}

// Canonical returns the canonical serialization of the event: JSON with keys
// sorted lexicographically, no insignificant whitespace, and the integrity
// field excluded. Integrity tokens are computed over exactly these bytes.
func (e *Event) Canonical() ([]byte, error) {
	m, err := e.fields()
	if err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order with no padding.
	return json.Marshal(m)
}

// Encode returns the wire form of the event: the canonical fields plus the
// integrity token, hex-lowercase.
func (e *Event) Encode() ([]byte, error) {
	m, err := e.fields()
	if err != nil {
		return nil, err
	}
	m["integrity"] = hex.EncodeToString(e.Integrity)
	return json.Marshal(m)
}

func (e *Event) fields() (map[string]any, error) {
	m := map[string]any{
		"uuid":      e.UUID.String(),
		"author":    e.Author,
		"timestamp": FormatTimestamp(e.Timestamp),
		"type":      string(e.Payload.Kind()),
	}
	switch p := e.Payload.(type) {
	case ObjectCreate:
		m["action"] = ActionCreate
		m["object"] = objectFields(p.Object)
	case ObjectUpdate:
		m["action"] = ActionUpdate
		m["object"] = objectFields(p.Object)
	case ObjectDelete:
		m["action"] = ActionDelete
		m["object_identifier"] = identifierFields(p.ObjectIdentifier)
	case SchemaCreate:
		m["action"] = ActionCreate
		m["schema"] = schemaFields(p.Schema)
	case SchemaUpdate:
		m["action"] = ActionUpdate
		m["schema"] = schemaFields(p.Schema)
	case SchemaDeprecate:
		m["action"] = ActionDelete
		m["schema_identifier"] = identifierFields(p.SchemaIdentifier)
	case AnnotationCreate:
		ids := make([]any, 0, len(p.ObjectIdentifiers))
		for _, id := range p.ObjectIdentifiers {
			ids = append(ids, identifierFields(id))
		}
		m["action"] = ActionCreate
		m["annotation"] = annotationFields(p.Annotation)
		m["object_identifiers"] = ids
	case AnnotationUpdate:
		m["action"] = ActionUpdate
		m["annotation"] = annotationFields(p.Annotation)
	case AnnotationDelete:
		m["action"] = ActionDelete
		m["annotation_identifier"] = identifierFields(p.AnnotationIdentifier)
	case ReviewAccept:
		m["decision"] = DecisionAccept
		m["event_uuid"] = p.EventUUID.String()
	case ReviewReject:
		m["decision"] = DecisionReject
		m["event_uuid"] = p.EventUUID.String()
	case OwnerAdd:
		m["owner"] = p.Owner
		m["owner_action"] = OwnerActionAdd
	case OwnerRemove:
		m["owner"] = p.Owner
		m["owner_action"] = OwnerActionRemove
	default:
		return nil, fmt.Errorf("unhandled payload type %T", e.Payload)
	}
	return m, nil
}

func identifierFields(id Identifier) map[string]any {
	return map[string]any{
		"uuid":    id.UUID.String(),
		"version": id.Version,
	}
}

func objectFields(o Object) map[string]any {
	return map[string]any{
		"uuid":      o.UUID.String(),
		"version":   o.Version,
		"name":      o.Name,
		"format":    o.Format,
		"size":      o.Size,
		"hash":      o.Hash,
		"hash_type": int(o.HashType),
	}
}

func schemaFields(s Schema) map[string]any {
	return map[string]any{
		"uuid":      s.UUID.String(),
		"version":   s.Version,
		"name":      s.Name,
		"format":    SchemaFormat,
		"size":      s.Size,
		"hash":      s.Hash,
		"hash_type": int(s.HashType),
	}
}

func annotationFields(a Annotation) map[string]any {
	return map[string]any{
		"uuid":      a.UUID.String(),
		"version":   a.Version,
		"schema":    identifierFields(a.Schema),
		"size":      a.Size,
		"hash":      a.Hash,
		"hash_type": int(a.HashType),
	}
}

// Decode parses the wire form produced by Encode.
func Decode(data []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	var e Event
	var err error
	if e.UUID, err = uuidField(m, "uuid"); err != nil {
		return nil, err
	}
	if e.Author, err = stringField(m, "author"); err != nil {
		return nil, err
	}
	ts, err := stringField(m, "timestamp")
	if err != nil {
		return nil, err
	}
	if e.Timestamp, err = ParseTimestamp(ts); err != nil {
		return nil, fmt.Errorf("decoding event timestamp: %w", err)
	}
	ihex, err := stringField(m, "integrity")
	if err != nil {
		return nil, err
	}
	if e.Integrity, err = hex.DecodeString(ihex); err != nil {
		return nil, fmt.Errorf("decoding event integrity: %w", err)
	}

	kind, err := stringField(m, "type")
	if err != nil {
		return nil, err
	}
	if e.Payload, err = decodePayload(Kind(kind), m); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodePayload(kind Kind, m map[string]any) (Payload, error) {
	switch kind {
	case KindObjectCreate:
		o, err := decodeObject(m, "object")
		if err != nil {
			return nil, err
		}
		return ObjectCreate{Object: o}, nil
	case KindObjectUpdate:
		o, err := decodeObject(m, "object")
		if err != nil {
			return nil, err
		}
		return ObjectUpdate{Object: o}, nil
	case KindObjectDelete:
		id, err := decodeIdentifier(m, "object_identifier")
		if err != nil {
			return nil, err
		}
		return ObjectDelete{ObjectIdentifier: id}, nil
	case KindSchemaCreate:
		s, err := decodeSchema(m, "schema")
		if err != nil {
			return nil, err
		}
		return SchemaCreate{Schema: s}, nil
	case KindSchemaUpdate:
		s, err := decodeSchema(m, "schema")
		if err != nil {
			return nil, err
		}
		return SchemaUpdate{Schema: s}, nil
	case KindSchemaDeprecate:
		id, err := decodeIdentifier(m, "schema_identifier")
		if err != nil {
			return nil, err
		}
		return SchemaDeprecate{SchemaIdentifier: id}, nil
	case KindAnnotationCreate:
		a, err := decodeAnnotation(m, "annotation")
		if err != nil {
			return nil, err
		}
		raw, ok := m["object_identifiers"].([]any)
		if !ok {
			return nil, fmt.Errorf("decoding event: missing object_identifiers")
		}
		ids := make([]Identifier, 0, len(raw))
		for _, el := range raw {
			sub, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("decoding event: malformed object identifier")
			}
			id, err := identifierFromMap(sub)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return AnnotationCreate{Annotation: a, ObjectIdentifiers: ids}, nil
	case KindAnnotationUpdate:
		a, err := decodeAnnotation(m, "annotation")
		if err != nil {
			return nil, err
		}
		return AnnotationUpdate{Annotation: a}, nil
	case KindAnnotationDelete:
		id, err := decodeIdentifier(m, "annotation_identifier")
		if err != nil {
			return nil, err
		}
		return AnnotationDelete{AnnotationIdentifier: id}, nil
	case KindReviewAccept:
		u, err := uuidField(m, "event_uuid")
		if err != nil {
			return nil, err
		}
		return ReviewAccept{EventUUID: u}, nil
	case KindReviewReject:
		u, err := uuidField(m, "event_uuid")
		if err != nil {
			return nil, err
		}
		return ReviewReject{EventUUID: u}, nil
	case KindOwnerAdd:
		owner, err := stringField(m, "owner")
		if err != nil {
			return nil, err
		}
		return OwnerAdd{Owner: owner}, nil
	case KindOwnerRemove:
		owner, err := stringField(m, "owner")
		if err != nil {
			return nil, err
		}
		return OwnerRemove{Owner: owner}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", kind)
}

func decodeObject(m map[string]any, key string) (Object, error) {
	sub, ok := m[key].(map[string]any)
	if !ok {
		return Object{}, fmt.Errorf("decoding event: missing %s", key)
	}
	var o Object
	var err error
	if o.UUID, err = uuidField(sub, "uuid"); err != nil {
		return Object{}, err
	}
	if o.Version, err = intField(sub, "version"); err != nil {
		return Object{}, err
	}
	if o.Name, err = stringField(sub, "name"); err != nil {
		return Object{}, err
	}
	if o.Format, err = stringField(sub, "format"); err != nil {
		return Object{}, err
	}
	if o.Size, err = int64Field(sub, "size"); err != nil {
		return Object{}, err
	}
	if o.Hash, err = stringField(sub, "hash"); err != nil {
		return Object{}, err
	}
	ht, err := intField(sub, "hash_type")
	if err != nil {
		return Object{}, err
	}
	o.HashType = HashType(ht)
	return o, nil
}

func decodeSchema(m map[string]any, key string) (Schema, error) {
	sub, ok := m[key].(map[string]any)
	if !ok {
		return Schema{}, fmt.Errorf("decoding event: missing %s", key)
	}
	var s Schema
	var err error
	if s.UUID, err = uuidField(sub, "uuid"); err != nil {
		return Schema{}, err
	}
	if s.Version, err = intField(sub, "version"); err != nil {
		return Schema{}, err
	}
	if s.Name, err = stringField(sub, "name"); err != nil {
		return Schema{}, err
	}
	if s.Size, err = int64Field(sub, "size"); err != nil {
		return Schema{}, err
	}
	if s.Hash, err = stringField(sub, "hash"); err != nil {
		return Schema{}, err
	}
	ht, err := intField(sub, "hash_type")
	if err != nil {
		return Schema{}, err
	}
	s.HashType = HashType(ht)
	return s, nil
}

func decodeAnnotation(m map[string]any, key string) (Annotation, error) {
	sub, ok := m[key].(map[string]any)
	if !ok {
		return Annotation{}, fmt.Errorf("decoding event: missing %s", key)
	}
	var a Annotation
	var err error
	if a.UUID, err = uuidField(sub, "uuid"); err != nil {
		return Annotation{}, err
	}
	if a.Version, err = intField(sub, "version"); err != nil {
		return Annotation{}, err
	}
	if a.Schema, err = decodeIdentifier(sub, "schema"); err != nil {
		return Annotation{}, err
	}
	if a.Size, err = int64Field(sub, "size"); err != nil {
		return Annotation{}, err
	}
	if a.Hash, err = stringField(sub, "hash"); err != nil {
		return Annotation{}, err
	}
	ht, err := intField(sub, "hash_type")
	if err != nil {
		return Annotation{}, err
	}
	a.HashType = HashType(ht)
	return a, nil
}

func decodeIdentifier(m map[string]any, key string) (Identifier, error) {
	sub, ok := m[key].(map[string]any)
	if !ok {
		return Identifier{}, fmt.Errorf("decoding event: missing %s", key)
	}
	return identifierFromMap(sub)
}

func identifierFromMap(m map[string]any) (Identifier, error) {
	var id Identifier
	var err error
	if id.UUID, err = uuidField(m, "uuid"); err != nil {
		return Identifier{}, err
	}
	if id.Version, err = intField(m, "version"); err != nil {
		return Identifier{}, err
	}
	return id, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key].(string)
	if !ok {
		return "", fmt.Errorf("decoding event: missing or non-string %s", key)
	}
	return v, nil
}

func uuidField(m map[string]any, key string) (uuid.UUID, error) {
	s, err := stringField(m, key)
	if err != nil {
		return uuid.UUID{}, err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("decoding event %s: %w", key, err)
	}
	return u, nil
}

func int64Field(m map[string]any, key string) (int64, error) {
	n, ok := m[key].(json.Number)
	if !ok {
		return 0, fmt.Errorf("decoding event: missing or non-numeric %s", key)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("decoding event %s: %w", key, err)
	}
	return v, nil
}

func intField(m map[string]any, key string) (int, error) {
	v, err := int64Field(m, key)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
