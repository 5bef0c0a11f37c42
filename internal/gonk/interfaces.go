package gonk

import (
	"io"

	"github.com/google/uuid"
)

// RecordKeeper is an append-only linear log of events. Appended events are
// immutable; sequence position is the only notion of time in the core.
type RecordKeeper interface {
	// Append adds the event to the tail of the log. The event's integrity
	// token must already be set.
	Append(ev *Event) error

	// Read returns the event with the given UUID.
	Read(id uuid.UUID) (*Event, error)

	// At returns the event at the given zero-based sequence position.
	At(seq uint64) (*Event, error)

	// Exists reports whether an event with the given UUID has been appended.
	Exists(id uuid.UUID) (bool, error)

	// Next returns the UUID following after in append order, or nil at the
	// end of the log. A nil after starts from the head.
	Next(after *uuid.UUID) (*uuid.UUID, error)

	// Tail returns the UUID of the most recently appended event, or nil for
	// an empty log.
	Tail() (*uuid.UUID, error)

	// Count returns the number of appended events.
	Count() (uint64, error)
}

// Depot is a content-addressed blob store keyed by versioned identifier.
// Blobs are immutable once written and deduplicated by digest.
type Depot interface {
	// Write streams size bytes from r under id, verifying that the bytes
	// hash to digest. Writing an identifier that already holds identical
	// bytes is a no-op.
	Write(id Identifier, r io.Reader, size int64, digest string) error

	// Read streams the blob stored under id to w, verifying its digest.
	Read(id Identifier, w io.Writer) error

	// Exists reports whether a finalized blob is stored under id.
	Exists(id Identifier) (bool, error)

	// Purge removes the blob stored under id. The engine does not call it;
	// the S3 depot uses it to drop an upload whose bytes fail the digest
	// check.
	Purge(id Identifier) error
}

// Integrity computes and checks the per-event integrity token. The hash
// chain and signature modes both satisfy it.
type Integrity interface {
	// Link computes the token for ev against the current log tail and sets
	// it on the event.
	Link(ev *Event) error

	// Validate checks that ev's token is the one Link would produce at the
	// current tail.
	Validate(ev *Event) error

	// VerifyAt checks ev's token against an explicit predecessor token, for
	// use during log replay.
	VerifyAt(ev *Event, prev []byte) error
}

// State is the projection and validator over the event log. Validate gates
// events against current projections; Apply folds a validated event in.
// Apply must only ever see events that passed Validate.
type State interface {
	Validate(ev *Event) error
	Apply(ev *Event) error

	// Status returns the projected status of one entity version.
	Status(kind EntityKind, id Identifier) (Status, error)

	// Objects pages object summaries in creation order. A nil after starts
	// from the beginning; an unknown after is a validation error.
	Objects(after *uuid.UUID, limit int) ([]ObjectInfo, error)
	Object(id Identifier) (*Object, error)
	ObjectVersions(u uuid.UUID) (int, error)
	ObjectsByStatus(status Status, after *uuid.UUID, limit int) ([]Identifier, error)

	Schemas() ([]SchemaInfo, error)
	SchemaInfoByName(name string) (*SchemaInfo, error)
	Schema(name string, version int) (*Schema, error)
	SchemasByStatus(status Status, after *uuid.UUID, limit int) ([]Identifier, error)
	// ResolveSchema maps a schema name and optional version to an
	// identifier. A nil version resolves to the latest version.
	ResolveSchema(name string, version *int) (Identifier, error)
	SchemaNameOf(u uuid.UUID) (string, error)

	Annotations(after *uuid.UUID, limit int) ([]AnnotationInfo, error)
	Annotation(id Identifier) (*Annotation, error)
	AnnotationVersions(u uuid.UUID) (int, error)
	AnnotationsByStatus(status Status, after *uuid.UUID, limit int) ([]Identifier, error)

	// AnnotationsForObject lists annotation UUIDs linked to an object version.
	AnnotationsForObject(id Identifier) ([]uuid.UUID, error)
	// ObjectsForAnnotation lists the object versions an annotation links to.
	ObjectsForAnnotation(u uuid.UUID) ([]Identifier, error)

	// EventsFor lists the event UUIDs that touched one entity version, in
	// append order.
	EventsFor(kind EntityKind, id Identifier) ([]uuid.UUID, error)

	// Events pages all consumed events in append order.
	Events(after *uuid.UUID, limit int) ([]EventInfo, error)

	// ReviewOf returns the review event UUID for a reviewed event, or nil
	// while the event is still pending review.
	ReviewOf(eventUUID uuid.UUID) (*uuid.UUID, error)

	Owners() ([]string, error)
}
