package gonk

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type tag carried in each event's canonical serialization.
type Kind string

const (
	KindObjectCreate     Kind = "ObjectCreateEvent"
	KindObjectUpdate     Kind = "ObjectUpdateEvent"
	KindObjectDelete     Kind = "ObjectDeleteEvent"
	KindSchemaCreate     Kind = "SchemaCreateEvent"
	KindSchemaUpdate     Kind = "SchemaUpdateEvent"
	KindSchemaDeprecate  Kind = "SchemaDeprecateEvent"
	KindAnnotationCreate Kind = "AnnotationCreateEvent"
	KindAnnotationUpdate Kind = "AnnotationUpdateEvent"
	KindAnnotationDelete Kind = "AnnotationDeleteEvent"
	KindReviewAccept     Kind = "ReviewAcceptEvent"
	KindReviewReject     Kind = "ReviewRejectEvent"
	KindOwnerAdd         Kind = "OwnerAddEvent"
	KindOwnerRemove      Kind = "OwnerRemoveEvent"
)

// Action values carried on entity mutation events.
const (
	ActionCreate = 1
	ActionUpdate = 2
	ActionDelete = 4
)

// Decision values carried on review events.
const (
	DecisionAccept = 1
	DecisionReject = 2
)

// OwnerAction values carried on owner mutation events.
const (
	OwnerActionAdd    = 1
	OwnerActionRemove = 2
)

// Payload is the closed set of event bodies. Concrete payloads live in this
// package only; validators and projections switch exhaustively on them.
type Payload interface {
	Kind() Kind
	payload()
}

// Event is the envelope appended to the record keeper. Integrity is the
// chain hash or signature over the canonical serialization, which excludes
// the integrity field itself.
type Event struct {
	UUID      uuid.UUID
	Author    string
	Timestamp time.Time
	Integrity []byte
	Payload   Payload
}

// ObjectCreate introduces a new object at version 0.
type ObjectCreate struct {
	Object Object
}

// ObjectUpdate appends the next version of an existing object.
type ObjectUpdate struct {
	Object Object
}

// ObjectDelete proposes removal of one object version.
type ObjectDelete struct {
	ObjectIdentifier Identifier
}

// SchemaCreate introduces a new schema at version 0.
type SchemaCreate struct {
	Schema Schema
}

// SchemaUpdate appends the next version of an existing schema.
type SchemaUpdate struct {
	Schema Schema
}

// SchemaDeprecate proposes terminal deprecation of one schema version.
type SchemaDeprecate struct {
	SchemaIdentifier Identifier
}

// AnnotationCreate introduces a new annotation at version 0, linked to one or
// more object versions.
type AnnotationCreate struct {
	Annotation        Annotation
	ObjectIdentifiers []Identifier
}

// AnnotationUpdate appends the next version of an existing annotation. The
// schema reference may change between versions.
type AnnotationUpdate struct {
	Annotation Annotation
}

// AnnotationDelete proposes removal of one annotation version.
type AnnotationDelete struct {
	AnnotationIdentifier Identifier
}

// ReviewAccept accepts a pending non-review event.
type ReviewAccept struct {
	EventUUID uuid.UUID
}

// ReviewReject rejects a pending non-review event.
type ReviewReject struct {
	EventUUID uuid.UUID
}

// OwnerAdd grants ownership. Takes effect on append; never reviewed.
type OwnerAdd struct {
	Owner string
}

// OwnerRemove revokes ownership. Takes effect on append; never reviewed.
type OwnerRemove struct {
	Owner string
}

func (ObjectCreate) Kind() Kind     { return KindObjectCreate }
func (ObjectUpdate) Kind() Kind     { return KindObjectUpdate }
func (ObjectDelete) Kind() Kind     { return KindObjectDelete }
func (SchemaCreate) Kind() Kind     { return KindSchemaCreate }
func (SchemaUpdate) Kind() Kind     { return KindSchemaUpdate }
func (SchemaDeprecate) Kind() Kind  { return KindSchemaDeprecate }
func (AnnotationCreate) Kind() Kind { return KindAnnotationCreate }
func (AnnotationUpdate) Kind() Kind { return KindAnnotationUpdate }
func (AnnotationDelete) Kind() Kind { return KindAnnotationDelete }
func (ReviewAccept) Kind() Kind     { return KindReviewAccept }
func (ReviewReject) Kind() Kind     { return KindReviewReject }
func (OwnerAdd) Kind() Kind         { return KindOwnerAdd }
func (OwnerRemove) Kind() Kind      { return KindOwnerRemove }

func (ObjectCreate) payload()     {}
func (ObjectUpdate) payload()     {}
func (ObjectDelete) payload()     {}
func (SchemaCreate) payload()     {}
func (SchemaUpdate) payload()     {}
func (SchemaDeprecate) payload()  {}
func (AnnotationCreate) payload() {}
func (AnnotationUpdate) payload() {}
func (AnnotationDelete) payload() {}
func (ReviewAccept) payload()     {}
func (ReviewReject) payload()     {}
func (OwnerAdd) payload()         {}
func (OwnerRemove) payload()      {}

// IsReview reports whether the event is a review decision.
func (e *Event) IsReview() bool {
	switch e.Payload.(type) {
	case ReviewAccept, ReviewReject:
		return true
	}
	return false
}

// IsOwner reports whether the event mutates the owner set.
func (e *Event) IsOwner() bool {
	switch e.Payload.(type) {
	case OwnerAdd, OwnerRemove:
		return true
	}
	return false
}
