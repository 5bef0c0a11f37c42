package gonk

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SchemaFormat is the only format schemas are stored under.
const SchemaFormat = "application/schema+json"

// SchemaNamePrefix marks names that refer to schemas rather than objects.
const SchemaNamePrefix = "schema-"

// IsSchemaName reports whether name follows the schema naming rule.
func IsSchemaName(name string) bool {
	return strings.HasPrefix(name, SchemaNamePrefix)
}

// HashType tags the digest algorithm on an entity version.
type HashType uint8

const (
	// HashTypeSHA256 is the only supported digest algorithm.
	HashTypeSHA256 HashType = 1
)

// Identifier names one revision of a versioned entity.
type Identifier struct {
	UUID    uuid.UUID
	Version int
}

func (id Identifier) String() string {
	return id.UUID.String() + "." + strconv.Itoa(id.Version)
}

// EntityKind discriminates versioned entities in status and listing queries.
type EntityKind string

const (
	KindObject     EntityKind = "object"
	KindSchema     EntityKind = "schema"
	KindAnnotation EntityKind = "annotation"
)

// Status is the projected review status of one entity version.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusDeprecated Status = "deprecated"
	StatusDeleted    Status = "deleted"
)

// ParseStatus maps a wire status string for the given kind, rejecting
// statuses that do not apply (schemas deprecate, the rest delete).
func ParseStatus(kind EntityKind, s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected:
		return Status(s), true
	case StatusDeprecated:
		return StatusDeprecated, kind == KindSchema
	case StatusDeleted:
		return StatusDeleted, kind != KindSchema
	}
	return "", false
}

// Object is one version of a stored binary.
type Object struct {
	UUID     uuid.UUID
	Version  int
	Name     string
	Format   string
	Size     int64
	HashType HashType
	Hash     string
}

func (o Object) Identifier() Identifier {
	return Identifier{UUID: o.UUID, Version: o.Version}
}

// Schema is one version of a JSON Schema document governing annotations.
type Schema struct {
	UUID     uuid.UUID
	Version  int
	Name     string
	Size     int64
	HashType HashType
	Hash     string
}

func (s Schema) Identifier() Identifier {
	return Identifier{UUID: s.UUID, Version: s.Version}
}

// Annotation is one version of a schema-validated blob linked to objects.
type Annotation struct {
	UUID     uuid.UUID
	Version  int
	Schema   Identifier
	Size     int64
	HashType HashType
	Hash     string
}

func (a Annotation) Identifier() Identifier {
	return Identifier{UUID: a.UUID, Version: a.Version}
}

// ObjectInfo summarizes an object UUID and how many versions it has.
type ObjectInfo struct {
	UUID     uuid.UUID
	Versions int
}

// SchemaInfo summarizes a schema name, its UUID, and its version count.
type SchemaInfo struct {
	Name     string
	UUID     uuid.UUID
	Versions int
}

// AnnotationInfo summarizes an annotation UUID and its version count.
type AnnotationInfo struct {
	UUID     uuid.UUID
	Versions int
}

// EventInfo summarizes a logged event for listings.
type EventInfo struct {
	UUID uuid.UUID
	Kind Kind
}
