package gonk

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/schema"
)

// Digest is a caller-declared size and SHA-256 for an uploaded blob. When
// supplied, the pipeline rejects the mutation if the materialized bytes do
// not match.
type Digest struct {
	Size int64
	Hash string
}

// Mutation reports a successfully processed mutating event.
type Mutation struct {
	EventUUID  uuid.UUID
	Identifier Identifier
}

// Dataset is the mutation engine for one dataset: it owns the write lock and
// runs the pipeline validate → link → append → depot write → apply. Reads go
// straight to the backends, which are individually safe for concurrent use.
type Dataset struct {
	name      string
	mu        sync.Mutex
	rk        RecordKeeper
	depot     Depot
	state     State
	integrity Integrity
	clock     Clock
	ids       IDGenerator
	log       Logger

	// Events appended whose depot write failed; bytes must be re-supplied
	// through Repair before the version is readable.
	repairs map[uuid.UUID]repairEntry
}

type repairEntry struct {
	id     Identifier
	digest string
	size   int64
}

// NewDataset assembles an engine over the given backends.
func NewDataset(name string, rk RecordKeeper, depot Depot, state State,
	integrity Integrity, clock Clock, ids IDGenerator, log Logger) *Dataset {
	return &Dataset{
		name:      name,
		rk:        rk,
		depot:     depot,
		state:     state,
		integrity: integrity,
		clock:     clock,
		ids:       ids,
		log:       log,
		repairs:   make(map[uuid.UUID]repairEntry),
	}
}

func (d *Dataset) Name() string        { return d.name }
func (d *Dataset) State() State        { return d.state }
func (d *Dataset) Records() RecordKeeper { return d.rk }
func (d *Dataset) Depot() Depot        { return d.depot }

// materialize computes the digest of data and checks it against the declared
// digest, when one was supplied.
func materialize(data []byte, declared *Digest) (int64, string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	size := int64(len(data))
	if declared != nil {
		if declared.Size != size {
			return 0, "", Integrityf("size", "declared size %d, bytes are %d", declared.Size, size)
		}
		if declared.Hash != "" && declared.Hash != hash {
			return 0, "", Integrityf("digest", "declared hash %s, bytes hash to %s", declared.Hash, hash)
		}
	}
	return size, hash, nil
}

func (d *Dataset) newEvent(author string, p Payload) *Event {
	return &Event{
		UUID:      d.ids.New(),
		Author:    author,
		Timestamp: d.clock.Now(),
		Payload:   p,
	}
}

// submit runs the tail of the pipeline under the dataset lock: field and
// state validation, integrity linking, append, optional blob write, apply.
// blob may be nil for events that carry no bytes.
func (d *Dataset) submit(ev *Event, blobID *Identifier, blob []byte, digest string) (*Mutation, error) {
	if err := ValidateFields(ev); err != nil {
		return nil, err
	}
	if err := d.state.Validate(ev); err != nil {
		return nil, err
	}
	if err := d.integrity.Link(ev); err != nil {
		return nil, err
	}
	if err := d.rk.Append(ev); err != nil {
		return nil, err
	}

	if blobID != nil {
		err := d.depot.Write(*blobID, bytes.NewReader(blob), int64(len(blob)), digest)
		if err != nil {
			// The append is permanent; the version stays unreadable until the
			// caller re-supplies the bytes through Repair.
			d.repairs[ev.UUID] = repairEntry{id: *blobID, digest: digest, size: int64(len(blob))}
			d.log.Error("depot write failed after append",
				"dataset", d.name, "event", ev.UUID, "identifier", *blobID, "err", err)
			return nil, fmt.Errorf("blob write for event %s failed, repair required: %w", ev.UUID, err)
		}
	}

	if err := d.state.Apply(ev); err != nil {
		d.log.Error("state apply failed after append",
			"dataset", d.name, "event", ev.UUID, "err", err)
		return nil, fmt.Errorf("applying event %s: %w", ev.UUID, err)
	}

	var id Identifier
	if blobID != nil {
		id = *blobID
	}
	return &Mutation{EventUUID: ev.UUID, Identifier: id}, nil
}

// CreateObject proposes a new object at version 0.
func (d *Dataset) CreateObject(author, name, format string, data []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(data, declared)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	obj := Object{
		UUID:     d.ids.New(),
		Version:  0,
		Name:     name,
		Format:   format,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, ObjectCreate{Object: obj})
	id := obj.Identifier()
	return d.submit(ev, &id, data, hash)
}

// UpdateObject proposes the next version of an object. Empty name or format
// carry the previous version's values forward.
func (d *Dataset) UpdateObject(author string, u uuid.UUID, name, format string, data []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(data, declared)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	versions, err := d.state.ObjectVersions(u)
	if err != nil {
		return nil, err
	}
	prev, err := d.state.Object(Identifier{UUID: u, Version: versions - 1})
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = prev.Name
	}
	if format == "" {
		format = prev.Format
	}

	obj := Object{
		UUID:     u,
		Version:  versions,
		Name:     name,
		Format:   format,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, ObjectUpdate{Object: obj})
	id := obj.Identifier()
	return d.submit(ev, &id, data, hash)
}

// DeleteObject proposes removal of one object version.
func (d *Dataset) DeleteObject(author string, id Identifier) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := d.newEvent(author, ObjectDelete{ObjectIdentifier: id})
	m, err := d.submit(ev, nil, nil, "")
	if err != nil {
		return nil, err
	}
	m.Identifier = id
	return m, nil
}

// CreateSchema proposes a new schema at version 0. The body must parse as a
// JSON Schema document.
func (d *Dataset) CreateSchema(author, name string, body []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(body, declared)
	if err != nil {
		return nil, err
	}
	if err := schema.Check(body); err != nil {
		return nil, Validationf("schema", "%v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sch := Schema{
		UUID:     d.ids.New(),
		Version:  0,
		Name:     name,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, SchemaCreate{Schema: sch})
	id := sch.Identifier()
	return d.submit(ev, &id, body, hash)
}

// UpdateSchema proposes the next version of the schema holding name.
func (d *Dataset) UpdateSchema(author, name string, body []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(body, declared)
	if err != nil {
		return nil, err
	}
	if err := schema.Check(body); err != nil {
		return nil, Validationf("schema", "%v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := d.state.SchemaInfoByName(name)
	if err != nil {
		return nil, err
	}

	sch := Schema{
		UUID:     info.UUID,
		Version:  info.Versions,
		Name:     name,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, SchemaUpdate{Schema: sch})
	id := sch.Identifier()
	return d.submit(ev, &id, body, hash)
}

// DeprecateSchema proposes terminal deprecation of one schema version.
func (d *Dataset) DeprecateSchema(author string, id Identifier) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := d.newEvent(author, SchemaDeprecate{SchemaIdentifier: id})
	m, err := d.submit(ev, nil, nil, "")
	if err != nil {
		return nil, err
	}
	m.Identifier = id
	return m, nil
}

// readSchemaBytes loads the schema blob backing a ref. Missing bytes behind
// an appended event are an integrity failure, not a lookup miss.
func (d *Dataset) readSchemaBytes(ref Identifier) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.depot.Read(ref, &buf); err != nil {
		if IsNotFound(err) {
			return nil, Integrityf("bytes-missing", "schema %s has no readable bytes", ref)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// CreateAnnotation proposes a new annotation at version 0, validated against
// the referenced schema and linked to the given object versions.
func (d *Dataset) CreateAnnotation(author string, schemaRef Identifier, objectIDs []Identifier, body []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(body, declared)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ann := Annotation{
		UUID:     d.ids.New(),
		Version:  0,
		Schema:   schemaRef,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, AnnotationCreate{Annotation: ann, ObjectIdentifiers: objectIDs})

	// Referential checks run in state validation; the schema-conformance
	// check needs the schema bytes and runs here.
	if err := ValidateFields(ev); err != nil {
		return nil, err
	}
	if err := d.state.Validate(ev); err != nil {
		return nil, err
	}
	schemaBytes, err := d.readSchemaBytes(schemaRef)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateInstance(schemaBytes, body); err != nil {
		return nil, Validationf("schema", "%v", err)
	}

	if err := d.integrity.Link(ev); err != nil {
		return nil, err
	}
	if err := d.rk.Append(ev); err != nil {
		return nil, err
	}
	id := ann.Identifier()
	if err := d.depot.Write(id, bytes.NewReader(body), size, hash); err != nil {
		d.repairs[ev.UUID] = repairEntry{id: id, digest: hash, size: size}
		d.log.Error("depot write failed after append",
			"dataset", d.name, "event", ev.UUID, "identifier", id, "err", err)
		return nil, fmt.Errorf("blob write for event %s failed, repair required: %w", ev.UUID, err)
	}
	if err := d.state.Apply(ev); err != nil {
		return nil, fmt.Errorf("applying event %s: %w", ev.UUID, err)
	}
	return &Mutation{EventUUID: ev.UUID, Identifier: id}, nil
}

// UpdateAnnotation proposes the next version of an annotation, possibly
// against a different schema version.
func (d *Dataset) UpdateAnnotation(author string, u uuid.UUID, schemaRef Identifier, body []byte, declared *Digest) (*Mutation, error) {
	size, hash, err := materialize(body, declared)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	versions, err := d.state.AnnotationVersions(u)
	if err != nil {
		return nil, err
	}

	ann := Annotation{
		UUID:     u,
		Version:  versions,
		Schema:   schemaRef,
		Size:     size,
		HashType: HashTypeSHA256,
		Hash:     hash,
	}
	ev := d.newEvent(author, AnnotationUpdate{Annotation: ann})

	if err := ValidateFields(ev); err != nil {
		return nil, err
	}
	if err := d.state.Validate(ev); err != nil {
		return nil, err
	}
	schemaBytes, err := d.readSchemaBytes(schemaRef)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateInstance(schemaBytes, body); err != nil {
		return nil, Validationf("schema", "%v", err)
	}

	if err := d.integrity.Link(ev); err != nil {
		return nil, err
	}
	if err := d.rk.Append(ev); err != nil {
		return nil, err
	}
	id := ann.Identifier()
	if err := d.depot.Write(id, bytes.NewReader(body), size, hash); err != nil {
		d.repairs[ev.UUID] = repairEntry{id: id, digest: hash, size: size}
		d.log.Error("depot write failed after append",
			"dataset", d.name, "event", ev.UUID, "identifier", id, "err", err)
		return nil, fmt.Errorf("blob write for event %s failed, repair required: %w", ev.UUID, err)
	}
	if err := d.state.Apply(ev); err != nil {
		return nil, fmt.Errorf("applying event %s: %w", ev.UUID, err)
	}
	return &Mutation{EventUUID: ev.UUID, Identifier: id}, nil
}

// DeleteAnnotation proposes removal of one annotation version.
func (d *Dataset) DeleteAnnotation(author string, id Identifier) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev := d.newEvent(author, AnnotationDelete{AnnotationIdentifier: id})
	m, err := d.submit(ev, nil, nil, "")
	if err != nil {
		return nil, err
	}
	m.Identifier = id
	return m, nil
}

// AddOwner grants ownership; takes effect on append.
func (d *Dataset) AddOwner(author, owner string) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submit(d.newEvent(author, OwnerAdd{Owner: owner}), nil, nil, "")
}

// RemoveOwner revokes ownership; takes effect on append.
func (d *Dataset) RemoveOwner(author, owner string) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submit(d.newEvent(author, OwnerRemove{Owner: owner}), nil, nil, "")
}

// AcceptEvent accepts a pending entity event.
func (d *Dataset) AcceptEvent(author string, target uuid.UUID) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submit(d.newEvent(author, ReviewAccept{EventUUID: target}), nil, nil, "")
}

// RejectEvent rejects a pending entity event.
func (d *Dataset) RejectEvent(author string, target uuid.UUID) (*Mutation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submit(d.newEvent(author, ReviewReject{EventUUID: target}), nil, nil, "")
}

// PendingRepairs lists events that are in the log but whose bytes never made
// it to the depot.
func (d *Dataset) PendingRepairs() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uuid.UUID, 0, len(d.repairs))
	for u := range d.repairs {
		out = append(out, u)
	}
	return out
}

// Repair retries the depot write for a bytes-missing event using bytes
// supplied by the caller, then promotes the event's effects.
func (d *Dataset) Repair(eventUUID uuid.UUID, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.repairs[eventUUID]
	if !ok {
		return NotFoundf("repair", "%s", eventUUID)
	}
	size, hash, err := materialize(data, &Digest{Size: entry.size, Hash: entry.digest})
	if err != nil {
		return err
	}
	if err := d.depot.Write(entry.id, bytes.NewReader(data), size, hash); err != nil {
		return err
	}
	ev, err := d.rk.Read(eventUUID)
	if err != nil {
		return err
	}
	if err := d.state.Apply(ev); err != nil {
		return fmt.Errorf("applying repaired event %s: %w", eventUUID, err)
	}
	delete(d.repairs, eventUUID)
	d.log.Info("event repaired", "dataset", d.name, "event", eventUUID, "identifier", entry.id)
	return nil
}

// ReadBlob streams the bytes of one entity version to w.
func (d *Dataset) ReadBlob(id Identifier, w io.Writer) error {
	return d.depot.Read(id, w)
}

// Replay folds the whole log into st, verifying integrity tokens along the
// way. It refuses to proceed past the first event whose token or record does
// not verify.
func (d *Dataset) Replay(st State) error {
	count, err := d.rk.Count()
	if err != nil {
		return fmt.Errorf("counting events: %w", err)
	}
	var prev []byte
	for seq := uint64(0); seq < count; seq++ {
		ev, err := d.rk.At(seq)
		if err != nil {
			return Integrityf("replay", "log unreadable at seq %d: %v", seq, err)
		}
		if err := d.integrity.VerifyAt(ev, prev); err != nil {
			return Integrityf("replay", "integrity failure at seq %d: %v", seq, err)
		}
		if err := st.Validate(ev); err != nil {
			return fmt.Errorf("replay validation at seq %d: %w", seq, err)
		}
		if err := st.Apply(ev); err != nil {
			return fmt.Errorf("replay apply at seq %d: %w", seq, err)
		}
		prev = ev.Integrity
	}
	return nil
}
