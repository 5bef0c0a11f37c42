// Package state provides the projection and validation layer over the event
// log: derived indices by name, status, and entity, plus the gating rules
// every proposed event must pass.
package state

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// Version review markers. A version accumulates markers as events touch it;
// its externally visible status is derived from the set.
type marks struct {
	pending        bool // create/update not yet reviewed
	rejected       bool // create/update rejected
	removalPending bool // delete/deprecate proposed, not yet reviewed
	removed        bool // delete/deprecate accepted; terminal
}

func (m marks) status(kind gonk.EntityKind) gonk.Status {
	switch {
	case m.removed && kind == gonk.KindSchema:
		return gonk.StatusDeprecated
	case m.removed:
		return gonk.StatusDeleted
	case m.rejected:
		return gonk.StatusRejected
	case m.pending:
		return gonk.StatusPending
	}
	return gonk.StatusAccepted
}

type entityKey struct {
	kind gonk.EntityKind
	id   gonk.Identifier
}

// Memory is the in-memory state projection. It is a pure function of the
// record keeper and is rebuilt by replaying the log.
type Memory struct {
	mu sync.RWMutex
	rk gonk.RecordKeeper

	objects     map[uuid.UUID][]gonk.Object
	objectOrder []uuid.UUID
	objectMarks map[gonk.Identifier]marks

	schemas     map[uuid.UUID][]gonk.Schema
	schemaOrder []uuid.UUID
	schemaMarks map[gonk.Identifier]marks
	schemaNames map[string]uuid.UUID

	annotations     map[uuid.UUID][]gonk.Annotation
	annotationOrder []uuid.UUID
	annotationMarks map[gonk.Identifier]marks

	linkForward map[gonk.Identifier][]uuid.UUID
	linkReverse map[uuid.UUID][]gonk.Identifier

	owners []string

	events       []gonk.EventInfo
	eventSeqs    map[uuid.UUID]int
	reviews      map[uuid.UUID]uuid.UUID
	entityEvents map[entityKey][]uuid.UUID
}

// NewMemory creates an empty in-memory state. The record keeper is consulted
// to resolve review targets.
func NewMemory(rk gonk.RecordKeeper) *Memory {
	return &Memory{
		rk:              rk,
		objects:         make(map[uuid.UUID][]gonk.Object),
		objectMarks:     make(map[gonk.Identifier]marks),
		schemas:         make(map[uuid.UUID][]gonk.Schema),
		schemaMarks:     make(map[gonk.Identifier]marks),
		schemaNames:     make(map[string]uuid.UUID),
		annotations:     make(map[uuid.UUID][]gonk.Annotation),
		annotationMarks: make(map[gonk.Identifier]marks),
		linkForward:     make(map[gonk.Identifier][]uuid.UUID),
		linkReverse:     make(map[uuid.UUID][]gonk.Identifier),
		eventSeqs:       make(map[uuid.UUID]int),
		reviews:         make(map[uuid.UUID]uuid.UUID),
		entityEvents:    make(map[entityKey][]uuid.UUID),
	}
}

// Reset drops all projected state so the log can be replayed from scratch.
func (s *Memory) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := NewMemory(s.rk)
	s.objects, s.objectOrder, s.objectMarks = fresh.objects, nil, fresh.objectMarks
	s.schemas, s.schemaOrder, s.schemaMarks = fresh.schemas, nil, fresh.schemaMarks
	s.schemaNames = fresh.schemaNames
	s.annotations, s.annotationOrder, s.annotationMarks = fresh.annotations, nil, fresh.annotationMarks
	s.linkForward, s.linkReverse = fresh.linkForward, fresh.linkReverse
	s.owners = nil
	s.events, s.eventSeqs = nil, fresh.eventSeqs
	s.reviews, s.entityEvents = fresh.reviews, fresh.entityEvents
	return nil
}

// Validate gates ev against the current projection. No state is modified.
func (s *Memory) Validate(ev *gonk.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch p := ev.Payload.(type) {
	case gonk.ObjectCreate:
		return s.validateObjectCreate(p)
	case gonk.ObjectUpdate:
		return s.validateObjectUpdate(p)
	case gonk.ObjectDelete:
		return s.validateObjectDelete(p)
	case gonk.SchemaCreate:
		return s.validateSchemaCreate(p)
	case gonk.SchemaUpdate:
		return s.validateSchemaUpdate(p)
	case gonk.SchemaDeprecate:
		return s.validateSchemaDeprecate(p)
	case gonk.AnnotationCreate:
		return s.validateAnnotationCreate(p)
	case gonk.AnnotationUpdate:
		return s.validateAnnotationUpdate(p)
	case gonk.AnnotationDelete:
		return s.validateAnnotationDelete(p)
	case gonk.ReviewAccept:
		return s.validateReview(ev.Author, p.EventUUID, true)
	case gonk.ReviewReject:
		return s.validateReview(ev.Author, p.EventUUID, false)
	case gonk.OwnerAdd:
		return s.validateOwnerAdd(ev.Author, p)
	case gonk.OwnerRemove:
		return s.validateOwnerRemove(ev.Author, p)
	}
	return gonk.Validationf("type", "unhandled event payload")
}

func (s *Memory) validateObjectCreate(p gonk.ObjectCreate) error {
	if gonk.IsSchemaName(p.Object.Name) {
		return gonk.Validationf("name", "object names may not use the schema prefix")
	}
	if _, ok := s.objects[p.Object.UUID]; ok {
		return gonk.Validationf("uuid", "object with UUID already exists")
	}
	if p.Object.Version != 0 {
		return gonk.Validationf("version", "object version must be zero in create event")
	}
	return nil
}

func (s *Memory) validateObjectUpdate(p gonk.ObjectUpdate) error {
	if gonk.IsSchemaName(p.Object.Name) {
		return gonk.Validationf("name", "object names may not use the schema prefix")
	}
	versions, ok := s.objects[p.Object.UUID]
	if !ok {
		return gonk.Validationf("uuid", "no objects with UUID found")
	}
	prev := versions[len(versions)-1]
	if s.objectMarks[prev.Identifier()].removed {
		return gonk.Validationf("deleted", "object version already deleted")
	}
	if prev.Hash == p.Object.Hash {
		return gonk.Validationf("unchanged", "object hash unchanged")
	}
	if p.Object.Version != len(versions) {
		return gonk.Validationf("version", "object version should be %d", len(versions))
	}
	return nil
}

func (s *Memory) validateObjectDelete(p gonk.ObjectDelete) error {
	id := p.ObjectIdentifier
	versions, ok := s.objects[id.UUID]
	if !ok {
		return gonk.Validationf("uuid", "object identifier not found")
	}
	if id.Version >= len(versions) {
		return gonk.Validationf("version", "version does not exist")
	}
	m := s.objectMarks[id]
	if m.rejected {
		return gonk.Validationf("rejected", "cannot delete a rejected object")
	}
	if m.removed {
		return gonk.Validationf("deleted", "object version already deleted")
	}
	// Competing delete proposals are allowed; only the first accepted one
	// takes effect.
	return nil
}

// schemaNameInUse reports whether name is held by a schema that still has a
// non-deprecated version. Rejection does not free a name; only deprecating
// every version does.
func (s *Memory) schemaNameInUse(name string) bool {
	u, ok := s.schemaNames[name]
	if !ok {
		return false
	}
	for _, sch := range s.schemas[u] {
		if !s.schemaMarks[sch.Identifier()].removed {
			return true
		}
	}
	return false
}

func (s *Memory) validateSchemaCreate(p gonk.SchemaCreate) error {
	if s.schemaNameInUse(p.Schema.Name) {
		return gonk.Validationf("name", "schema name already in use")
	}
	if _, ok := s.schemas[p.Schema.UUID]; ok {
		return gonk.Validationf("uuid", "schema with UUID already exists")
	}
	if p.Schema.Version != 0 {
		return gonk.Validationf("version", "schema version must be zero in create event")
	}
	return nil
}

func (s *Memory) validateSchemaUpdate(p gonk.SchemaUpdate) error {
	versions, ok := s.schemas[p.Schema.UUID]
	if !ok {
		return gonk.Validationf("uuid", "no schemas with UUID found")
	}
	prev := versions[len(versions)-1]
	if prev.Name != p.Schema.Name {
		return gonk.Validationf("name", "schema names may not change")
	}
	if s.schemaMarks[prev.Identifier()].removed {
		return gonk.Validationf("deprecated", "schema version already deprecated")
	}
	if prev.Hash == p.Schema.Hash {
		return gonk.Validationf("unchanged", "schema hash unchanged")
	}
	if p.Schema.Version != len(versions) {
		return gonk.Validationf("version", "schema version should be %d", len(versions))
	}
	return nil
}

func (s *Memory) validateSchemaDeprecate(p gonk.SchemaDeprecate) error {
	id := p.SchemaIdentifier
	versions, ok := s.schemas[id.UUID]
	if !ok {
		return gonk.Validationf("uuid", "schema identifier not found")
	}
	if id.Version >= len(versions) {
		return gonk.Validationf("version", "version does not exist")
	}
	m := s.schemaMarks[id]
	if m.rejected {
		return gonk.Validationf("rejected", "cannot deprecate a rejected schema")
	}
	if m.removed {
		return gonk.Validationf("deprecated", "schema version already deprecated")
	}
	return nil
}

func (s *Memory) validateSchemaRef(id gonk.Identifier) error {
	versions, ok := s.schemas[id.UUID]
	if !ok {
		return gonk.Validationf("schema-ref", "schema identifier not found")
	}
	if id.Version >= len(versions) {
		return gonk.Validationf("schema-ref", "schema version does not exist")
	}
	m := s.schemaMarks[id]
	if m.rejected {
		return gonk.Validationf("schema-ref", "rejected schemas cannot be referenced")
	}
	if m.removed {
		return gonk.Validationf("schema-ref", "deprecated schemas cannot be referenced")
	}
	return nil
}

func (s *Memory) validateAnnotationCreate(p gonk.AnnotationCreate) error {
	if _, ok := s.annotations[p.Annotation.UUID]; ok {
		return gonk.Validationf("uuid", "annotation with UUID already exists")
	}
	if p.Annotation.Version != 0 {
		return gonk.Validationf("version", "annotation version must be zero in create event")
	}
	if err := s.validateSchemaRef(p.Annotation.Schema); err != nil {
		return err
	}
	for _, id := range p.ObjectIdentifiers {
		versions, ok := s.objects[id.UUID]
		if !ok {
			return gonk.Validationf("object-ref", "object identifier not found")
		}
		if id.Version >= len(versions) {
			return gonk.Validationf("object-ref", "object version does not exist")
		}
		m := s.objectMarks[id]
		if m.rejected {
			return gonk.Validationf("object-ref", "rejected objects cannot be annotated")
		}
		if m.removed {
			return gonk.Validationf("object-ref", "deleted objects cannot be annotated")
		}
	}
	return nil
}

func (s *Memory) validateAnnotationUpdate(p gonk.AnnotationUpdate) error {
	versions, ok := s.annotations[p.Annotation.UUID]
	if !ok {
		return gonk.Validationf("uuid", "no annotations with UUID found")
	}
	prev := versions[len(versions)-1]
	if s.annotationMarks[prev.Identifier()].removed {
		return gonk.Validationf("deleted", "annotation version already deleted")
	}
	if prev.Hash == p.Annotation.Hash {
		return gonk.Validationf("unchanged", "annotation hash unchanged")
	}
	if p.Annotation.Version != len(versions) {
		return gonk.Validationf("version", "annotation version should be %d", len(versions))
	}
	if err := s.validateSchemaRef(p.Annotation.Schema); err != nil {
		return err
	}
	for _, id := range s.linkReverse[p.Annotation.UUID] {
		if s.objectMarks[id].removed {
			return gonk.Validationf("object-ref", "annotating a deleted object")
		}
	}
	return nil
}

func (s *Memory) validateAnnotationDelete(p gonk.AnnotationDelete) error {
	id := p.AnnotationIdentifier
	versions, ok := s.annotations[id.UUID]
	if !ok {
		return gonk.Validationf("uuid", "annotation identifier not found")
	}
	if id.Version >= len(versions) {
		return gonk.Validationf("version", "version does not exist")
	}
	m := s.annotationMarks[id]
	if m.rejected {
		return gonk.Validationf("rejected", "cannot delete a rejected annotation")
	}
	if m.removed {
		return gonk.Validationf("deleted", "annotation already deleted")
	}
	return nil
}

func (s *Memory) isOwner(user string) bool {
	for _, o := range s.owners {
		if o == user {
			return true
		}
	}
	return false
}

func (s *Memory) validateReview(author string, target uuid.UUID, accept bool) error {
	if _, ok := s.reviews[target]; ok {
		return gonk.Validationf("reviewed", "event already reviewed")
	}
	exists, err := s.rk.Exists(target)
	if err != nil {
		return err
	}
	if !exists {
		return gonk.Validationf("event-uuid", "no events with event UUID found")
	}
	targetEvent, err := s.rk.Read(target)
	if err != nil {
		return err
	}
	if targetEvent.IsReview() || targetEvent.IsOwner() {
		return gonk.Validationf("review-target", "review on non entity event")
	}
	if author == "" {
		return gonk.Validationf("author", "author is empty")
	}
	if !s.isOwner(author) {
		return gonk.Validationf("owner", "review event from non-owner")
	}

	if !accept {
		return nil
	}

	// Accepting a delete or deprecate requires its target version to still
	// be pending or accepted. Competing proposals can race; only the first
	// accepted one lands.
	switch tp := targetEvent.Payload.(type) {
	case gonk.ObjectDelete:
		st := s.objectMarks[tp.ObjectIdentifier].status(gonk.KindObject)
		if st != gonk.StatusPending && st != gonk.StatusAccepted {
			return gonk.Validationf("review-target", "object version is %s", st)
		}
	case gonk.SchemaDeprecate:
		st := s.schemaMarks[tp.SchemaIdentifier].status(gonk.KindSchema)
		if st != gonk.StatusPending && st != gonk.StatusAccepted {
			return gonk.Validationf("review-target", "schema version is %s", st)
		}
	case gonk.AnnotationDelete:
		st := s.annotationMarks[tp.AnnotationIdentifier].status(gonk.KindAnnotation)
		if st != gonk.StatusPending && st != gonk.StatusAccepted {
			return gonk.Validationf("review-target", "annotation version is %s", st)
		}
	}
	return nil
}

func (s *Memory) validateOwnerAdd(author string, p gonk.OwnerAdd) error {
	if len(s.owners) == 0 {
		if p.Owner != author {
			return gonk.Validationf("owner", "first owner add event must be self authored")
		}
		return nil
	}
	if s.isOwner(p.Owner) {
		return gonk.Validationf("owner", "owner already present")
	}
	if !s.isOwner(author) {
		return gonk.Validationf("owner", "only owners can add owners")
	}
	return nil
}

func (s *Memory) validateOwnerRemove(author string, p gonk.OwnerRemove) error {
	if len(s.owners) == 0 {
		return gonk.Validationf("owner", "dataset has no owners to remove")
	}
	authorRank, targetRank := -1, -1
	for i, o := range s.owners {
		if o == author {
			authorRank = i
		}
		if o == p.Owner {
			targetRank = i
		}
	}
	if authorRank < 0 {
		return gonk.Validationf("owner", "only owners may remove owners")
	}
	if targetRank < 0 {
		return gonk.Validationf("owner", "target is not an owner")
	}
	if len(s.owners) == 1 {
		return gonk.Validationf("last-owner", "removing owner would leave the dataset ownerless")
	}
	if authorRank > targetRank {
		return gonk.Validationf("owner-rank", "cannot remove a higher ranking owner")
	}
	return nil
}

// Apply folds a validated event into the projection.
func (s *Memory) Apply(ev *gonk.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventSeqs[ev.UUID] = len(s.events)
	s.events = append(s.events, gonk.EventInfo{UUID: ev.UUID, Kind: ev.Payload.Kind()})

	switch p := ev.Payload.(type) {
	case gonk.ObjectCreate:
		s.objects[p.Object.UUID] = []gonk.Object{p.Object}
		s.objectOrder = append(s.objectOrder, p.Object.UUID)
		s.objectMarks[p.Object.Identifier()] = marks{pending: true}
		s.linkEntity(gonk.KindObject, p.Object.Identifier(), ev.UUID)
	case gonk.ObjectUpdate:
		s.objects[p.Object.UUID] = append(s.objects[p.Object.UUID], p.Object)
		s.objectMarks[p.Object.Identifier()] = marks{pending: true}
		s.linkEntity(gonk.KindObject, p.Object.Identifier(), ev.UUID)
	case gonk.ObjectDelete:
		m := s.objectMarks[p.ObjectIdentifier]
		m.removalPending = true
		s.objectMarks[p.ObjectIdentifier] = m
		s.linkEntity(gonk.KindObject, p.ObjectIdentifier, ev.UUID)
	case gonk.SchemaCreate:
		s.schemas[p.Schema.UUID] = []gonk.Schema{p.Schema}
		s.schemaOrder = append(s.schemaOrder, p.Schema.UUID)
		s.schemaNames[p.Schema.Name] = p.Schema.UUID
		s.schemaMarks[p.Schema.Identifier()] = marks{pending: true}
		s.linkEntity(gonk.KindSchema, p.Schema.Identifier(), ev.UUID)
	case gonk.SchemaUpdate:
		s.schemas[p.Schema.UUID] = append(s.schemas[p.Schema.UUID], p.Schema)
		s.schemaMarks[p.Schema.Identifier()] = marks{pending: true}
		s.linkEntity(gonk.KindSchema, p.Schema.Identifier(), ev.UUID)
	case gonk.SchemaDeprecate:
		m := s.schemaMarks[p.SchemaIdentifier]
		m.removalPending = true
		s.schemaMarks[p.SchemaIdentifier] = m
		s.linkEntity(gonk.KindSchema, p.SchemaIdentifier, ev.UUID)
	case gonk.AnnotationCreate:
		s.annotations[p.Annotation.UUID] = []gonk.Annotation{p.Annotation}
		s.annotationOrder = append(s.annotationOrder, p.Annotation.UUID)
		s.annotationMarks[p.Annotation.Identifier()] = marks{pending: true}
		for _, id := range p.ObjectIdentifiers {
			s.linkForward[id] = append(s.linkForward[id], p.Annotation.UUID)
			s.linkReverse[p.Annotation.UUID] = append(s.linkReverse[p.Annotation.UUID], id)
		}
		s.linkEntity(gonk.KindAnnotation, p.Annotation.Identifier(), ev.UUID)
	case gonk.AnnotationUpdate:
		s.annotations[p.Annotation.UUID] = append(s.annotations[p.Annotation.UUID], p.Annotation)
		s.annotationMarks[p.Annotation.Identifier()] = marks{pending: true}
		s.linkEntity(gonk.KindAnnotation, p.Annotation.Identifier(), ev.UUID)
	case gonk.AnnotationDelete:
		m := s.annotationMarks[p.AnnotationIdentifier]
		m.removalPending = true
		s.annotationMarks[p.AnnotationIdentifier] = m
		s.linkEntity(gonk.KindAnnotation, p.AnnotationIdentifier, ev.UUID)
	case gonk.ReviewAccept:
		return s.applyReview(ev, p.EventUUID, true)
	case gonk.ReviewReject:
		return s.applyReview(ev, p.EventUUID, false)
	case gonk.OwnerAdd:
		s.owners = append(s.owners, p.Owner)
	case gonk.OwnerRemove:
		for i, o := range s.owners {
			if o == p.Owner {
				s.owners = append(s.owners[:i], s.owners[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *Memory) linkEntity(kind gonk.EntityKind, id gonk.Identifier, ev uuid.UUID) {
	key := entityKey{kind: kind, id: id}
	s.entityEvents[key] = append(s.entityEvents[key], ev)
}

func (s *Memory) applyReview(ev *gonk.Event, target uuid.UUID, accept bool) error {
	s.reviews[target] = ev.UUID

	targetEvent, err := s.rk.Read(target)
	if err != nil {
		return err
	}

	var kind gonk.EntityKind
	var id gonk.Identifier
	var removal bool
	switch tp := targetEvent.Payload.(type) {
	case gonk.ObjectCreate:
		kind, id = gonk.KindObject, tp.Object.Identifier()
	case gonk.ObjectUpdate:
		kind, id = gonk.KindObject, tp.Object.Identifier()
	case gonk.ObjectDelete:
		kind, id, removal = gonk.KindObject, tp.ObjectIdentifier, true
	case gonk.SchemaCreate:
		kind, id = gonk.KindSchema, tp.Schema.Identifier()
	case gonk.SchemaUpdate:
		kind, id = gonk.KindSchema, tp.Schema.Identifier()
	case gonk.SchemaDeprecate:
		kind, id, removal = gonk.KindSchema, tp.SchemaIdentifier, true
	case gonk.AnnotationCreate:
		kind, id = gonk.KindAnnotation, tp.Annotation.Identifier()
	case gonk.AnnotationUpdate:
		kind, id = gonk.KindAnnotation, tp.Annotation.Identifier()
	case gonk.AnnotationDelete:
		kind, id, removal = gonk.KindAnnotation, tp.AnnotationIdentifier, true
	default:
		return gonk.Validationf("review-target", "review on non entity event")
	}

	markMap := s.markMap(kind)
	m := markMap[id]
	if removal {
		m.removalPending = false
		if accept {
			m.removed = true
		}
	} else {
		m.pending = false
		if !accept {
			m.rejected = true
		}
	}
	markMap[id] = m
	s.linkEntity(kind, id, ev.UUID)
	return nil
}

func (s *Memory) markMap(kind gonk.EntityKind) map[gonk.Identifier]marks {
	switch kind {
	case gonk.KindObject:
		return s.objectMarks
	case gonk.KindSchema:
		return s.schemaMarks
	}
	return s.annotationMarks
}

// Status returns the projected status of one entity version.
func (s *Memory) Status(kind gonk.EntityKind, id gonk.Identifier) (gonk.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var known bool
	switch kind {
	case gonk.KindObject:
		versions, ok := s.objects[id.UUID]
		known = ok && id.Version < len(versions)
	case gonk.KindSchema:
		versions, ok := s.schemas[id.UUID]
		known = ok && id.Version < len(versions)
	case gonk.KindAnnotation:
		versions, ok := s.annotations[id.UUID]
		known = ok && id.Version < len(versions)
	}
	if !known {
		return "", gonk.NotFoundf(string(kind), "%s", id)
	}
	return s.markMap(kind)[id].status(kind), nil
}

// cursorStart returns the index in order just past every entry of after.
func cursorStart(order []uuid.UUID, after *uuid.UUID) (int, error) {
	if after == nil {
		return 0, nil
	}
	for i, u := range order {
		if u == *after {
			return i + 1, nil
		}
	}
	return 0, gonk.Validationf("after", "unknown pagination cursor")
}

func (s *Memory) Objects(after *uuid.UUID, limit int) ([]gonk.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := cursorStart(s.objectOrder, after)
	if err != nil {
		return nil, err
	}
	infos := []gonk.ObjectInfo{}
	for _, u := range s.objectOrder[start:] {
		if len(infos) == limit {
			break
		}
		infos = append(infos, gonk.ObjectInfo{UUID: u, Versions: len(s.objects[u])})
	}
	return infos, nil
}

func (s *Memory) Object(id gonk.Identifier) (*gonk.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.objects[id.UUID]
	if !ok || id.Version >= len(versions) {
		return nil, gonk.NotFoundf("object", "%s", id)
	}
	o := versions[id.Version]
	return &o, nil
}

func (s *Memory) ObjectVersions(u uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.objects[u]
	if !ok {
		return 0, gonk.NotFoundf("object", "%s", u)
	}
	return len(versions), nil
}

func (s *Memory) ObjectsByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := cursorStart(s.objectOrder, after)
	if err != nil {
		return nil, err
	}
	ids := []gonk.Identifier{}
	for _, u := range s.objectOrder[start:] {
		if len(ids) == limit {
			break
		}
		for _, o := range s.objects[u] {
			if len(ids) == limit {
				break
			}
			if s.objectMarks[o.Identifier()].status(gonk.KindObject) == status {
				ids = append(ids, o.Identifier())
			}
		}
	}
	return ids, nil
}

func (s *Memory) Schemas() ([]gonk.SchemaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := []gonk.SchemaInfo{}
	for _, u := range s.schemaOrder {
		versions := s.schemas[u]
		infos = append(infos, gonk.SchemaInfo{
			Name:     versions[0].Name,
			UUID:     u,
			Versions: len(versions),
		})
	}
	return infos, nil
}

func (s *Memory) SchemaInfoByName(name string) (*gonk.SchemaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.schemaNames[name]
	if !ok {
		return nil, gonk.NotFoundf("schema", "%s", name)
	}
	return &gonk.SchemaInfo{Name: name, UUID: u, Versions: len(s.schemas[u])}, nil
}

func (s *Memory) Schema(name string, version int) (*gonk.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.schemaNames[name]
	if !ok {
		return nil, gonk.NotFoundf("schema", "%s", name)
	}
	versions := s.schemas[u]
	if version >= len(versions) || version < 0 {
		return nil, gonk.NotFoundf("schema", "%s version %d", name, version)
	}
	sch := versions[version]
	return &sch, nil
}

func (s *Memory) SchemasByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := cursorStart(s.schemaOrder, after)
	if err != nil {
		return nil, err
	}
	ids := []gonk.Identifier{}
	for _, u := range s.schemaOrder[start:] {
		if len(ids) == limit {
			break
		}
		for _, sch := range s.schemas[u] {
			if len(ids) == limit {
				break
			}
			if s.schemaMarks[sch.Identifier()].status(gonk.KindSchema) == status {
				ids = append(ids, sch.Identifier())
			}
		}
	}
	return ids, nil
}

func (s *Memory) ResolveSchema(name string, version *int) (gonk.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.schemaNames[name]
	if !ok {
		return gonk.Identifier{}, gonk.NotFoundf("schema", "%s", name)
	}
	versions := s.schemas[u]
	v := len(versions) - 1
	if version != nil {
		v = *version
	}
	if v < 0 || v >= len(versions) {
		return gonk.Identifier{}, gonk.NotFoundf("schema", "%s version %d", name, v)
	}
	return gonk.Identifier{UUID: u, Version: v}, nil
}

func (s *Memory) SchemaNameOf(u uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.schemas[u]
	if !ok {
		return "", gonk.NotFoundf("schema", "%s", u)
	}
	return versions[0].Name, nil
}

func (s *Memory) Annotations(after *uuid.UUID, limit int) ([]gonk.AnnotationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := cursorStart(s.annotationOrder, after)
	if err != nil {
		return nil, err
	}
	infos := []gonk.AnnotationInfo{}
	for _, u := range s.annotationOrder[start:] {
		if len(infos) == limit {
			break
		}
		infos = append(infos, gonk.AnnotationInfo{UUID: u, Versions: len(s.annotations[u])})
	}
	return infos, nil
}

func (s *Memory) Annotation(id gonk.Identifier) (*gonk.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.annotations[id.UUID]
	if !ok || id.Version >= len(versions) {
		return nil, gonk.NotFoundf("annotation", "%s", id)
	}
	a := versions[id.Version]
	return &a, nil
}

func (s *Memory) AnnotationVersions(u uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.annotations[u]
	if !ok {
		return 0, gonk.NotFoundf("annotation", "%s", u)
	}
	return len(versions), nil
}

func (s *Memory) AnnotationsByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := cursorStart(s.annotationOrder, after)
	if err != nil {
		return nil, err
	}
	ids := []gonk.Identifier{}
	for _, u := range s.annotationOrder[start:] {
		if len(ids) == limit {
			break
		}
		for _, a := range s.annotations[u] {
			if len(ids) == limit {
				break
			}
			if s.annotationMarks[a.Identifier()].status(gonk.KindAnnotation) == status {
				ids = append(ids, a.Identifier())
			}
		}
	}
	return ids, nil
}

func (s *Memory) AnnotationsForObject(id gonk.Identifier) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID{}, s.linkForward[id]...), nil
}

func (s *Memory) ObjectsForAnnotation(u uuid.UUID) ([]gonk.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gonk.Identifier{}, s.linkReverse[u]...), nil
}

func (s *Memory) EventsFor(kind gonk.EntityKind, id gonk.Identifier) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID{}, s.entityEvents[entityKey{kind: kind, id: id}]...), nil
}

func (s *Memory) Events(after *uuid.UUID, limit int) ([]gonk.EventInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if after != nil {
		seq, ok := s.eventSeqs[*after]
		if !ok {
			return nil, gonk.Validationf("after", "unknown pagination cursor")
		}
		start = seq + 1
	}
	infos := []gonk.EventInfo{}
	for _, info := range s.events[start:] {
		if len(infos) == limit {
			break
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Memory) ReviewOf(eventUUID uuid.UUID) (*uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	review, ok := s.reviews[eventUUID]
	if !ok {
		return nil, nil
	}
	r := review
	return &r, nil
}

func (s *Memory) Owners() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.owners...), nil
}

var _ gonk.State = (*Memory)(nil)
