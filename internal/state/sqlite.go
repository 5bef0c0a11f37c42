package state

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/state/migrations"
)

// Review marker values stored in the *_marks tables. One version may carry
// several marks; its visible status is derived from the set.
const (
	markCreatePending  = "CREATE_PENDING"
	markCreateRejected = "CREATE_REJECTED"
	markRemovePending  = "REMOVE_PENDING"
	markRemoveAccepted = "REMOVE_ACCEPTED"
)

// SQLite is the relational state projection. Every Apply runs in a single
// transaction.
type SQLite struct {
	db *sql.DB
	rk gonk.RecordKeeper
}

// NewSQLite opens (or creates) state.db under dir and migrates it to the
// latest schema. Pass ":memory:" as dir for an ephemeral projection.
func NewSQLite(dir string, rk gonk.RecordKeeper) (*SQLite, error) {
	path := ":memory:"
	if dir != ":memory:" {
		path = filepath.Join(dir, "state.db")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state database: %w", err)
	}
	return &SQLite{db: db, rk: rk}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Reset drops all projected rows so the state can be rebuilt from the log.
func (s *SQLite) Reset() error {
	tables := []string{
		"events", "event_review_link",
		"objects", "object_marks", "object_event_link",
		"schemas", "schema_marks", "schema_event_link",
		"annotations", "annotation_marks", "annotation_event_link",
		"object_annotation_link", "owners",
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	for _, t := range tables {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("clearing %s: %w", t, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) marksFor(kind gonk.EntityKind, id gonk.Identifier) (marks, error) {
	table := map[gonk.EntityKind]string{
		gonk.KindObject:     "object_marks",
		gonk.KindSchema:     "schema_marks",
		gonk.KindAnnotation: "annotation_marks",
	}[kind]

	rows, err := s.db.Query(
		"SELECT mark FROM "+table+" WHERE uuid = ? AND version = ?",
		id.UUID.String(), id.Version)
	if err != nil {
		return marks{}, fmt.Errorf("reading marks: %w", err)
	}
	defer rows.Close()

	var m marks
	for rows.Next() {
		var mark string
		if err := rows.Scan(&mark); err != nil {
			return marks{}, fmt.Errorf("scanning mark: %w", err)
		}
		switch mark {
		case markCreatePending:
			m.pending = true
		case markCreateRejected:
			m.rejected = true
		case markRemovePending:
			m.removalPending = true
		case markRemoveAccepted:
			m.removed = true
		}
	}
	return m, rows.Err()
}

func (s *SQLite) versionCount(table string, u uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM "+table+" WHERE uuid = ?", u.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting versions: %w", err)
	}
	return n, nil
}

// Validate gates ev against the current projection. No state is modified.
func (s *SQLite) Validate(ev *gonk.Event) error {
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

func (s *SQLite) validateObjectCreate(p gonk.ObjectCreate) error {
	if gonk.IsSchemaName(p.Object.Name) {
		return gonk.Validationf("name", "object names may not use the schema prefix")
	}
	n, err := s.versionCount("objects", p.Object.UUID)
	if err != nil {
		return err
	}
	if n != 0 {
		return gonk.Validationf("uuid", "object with UUID already exists")
	}
	if p.Object.Version != 0 {
		return gonk.Validationf("version", "object version must be zero in create event")
	}
	return nil
}

func (s *SQLite) latestObject(u uuid.UUID) (*gonk.Object, int, error) {
	n, err := s.versionCount("objects", u)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}
	o, err := s.Object(gonk.Identifier{UUID: u, Version: n - 1})
	if err != nil {
		return nil, 0, err
	}
	return o, n, nil
}

func (s *SQLite) validateObjectUpdate(p gonk.ObjectUpdate) error {
	if gonk.IsSchemaName(p.Object.Name) {
		return gonk.Validationf("name", "object names may not use the schema prefix")
	}
	prev, n, err := s.latestObject(p.Object.UUID)
	if err != nil {
		return err
	}
	if prev == nil {
		return gonk.Validationf("uuid", "no objects with UUID found")
	}
	m, err := s.marksFor(gonk.KindObject, prev.Identifier())
	if err != nil {
		return err
	}
	if m.removed {
		return gonk.Validationf("deleted", "object version already deleted")
	}
	if prev.Hash == p.Object.Hash {
		return gonk.Validationf("unchanged", "object hash unchanged")
	}
	if p.Object.Version != n {
		return gonk.Validationf("version", "object version should be %d", n)
	}
	return nil
}

func (s *SQLite) validateObjectDelete(p gonk.ObjectDelete) error {
	id := p.ObjectIdentifier
	n, err := s.versionCount("objects", id.UUID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gonk.Validationf("uuid", "object identifier not found")
	}
	if id.Version >= n {
		return gonk.Validationf("version", "version does not exist")
	}
	m, err := s.marksFor(gonk.KindObject, id)
	if err != nil {
		return err
	}
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
func (s *SQLite) schemaNameInUse(name string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1
		FROM schemas S
		WHERE S.name = ?
			AND NOT EXISTS (
				SELECT 1 FROM schema_marks M
				WHERE M.uuid = S.uuid AND M.version = S.version
					AND M.mark = ?)
		LIMIT 1`,
		name, markRemoveAccepted).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking schema name: %w", err)
	}
	return true, nil
}

func (s *SQLite) validateSchemaCreate(p gonk.SchemaCreate) error {
	inUse, err := s.schemaNameInUse(p.Schema.Name)
	if err != nil {
		return err
	}
	if inUse {
		return gonk.Validationf("name", "schema name already in use")
	}
	n, err := s.versionCount("schemas", p.Schema.UUID)
	if err != nil {
		return err
	}
	if n != 0 {
		return gonk.Validationf("uuid", "schema with UUID already exists")
	}
	if p.Schema.Version != 0 {
		return gonk.Validationf("version", "schema version must be zero in create event")
	}
	return nil
}

func (s *SQLite) latestSchema(u uuid.UUID) (*gonk.Schema, int, error) {
	n, err := s.versionCount("schemas", u)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}
	sch, err := s.schemaAt(gonk.Identifier{UUID: u, Version: n - 1})
	if err != nil {
		return nil, 0, err
	}
	return sch, n, nil
}

func (s *SQLite) validateSchemaUpdate(p gonk.SchemaUpdate) error {
	prev, n, err := s.latestSchema(p.Schema.UUID)
	if err != nil {
		return err
	}
	if prev == nil {
		return gonk.Validationf("uuid", "no schemas with UUID found")
	}
	if prev.Name != p.Schema.Name {
		return gonk.Validationf("name", "schema names may not change")
	}
	m, err := s.marksFor(gonk.KindSchema, prev.Identifier())
	if err != nil {
		return err
	}
	if m.removed {
		return gonk.Validationf("deprecated", "schema version already deprecated")
	}
	if prev.Hash == p.Schema.Hash {
		return gonk.Validationf("unchanged", "schema hash unchanged")
	}
	if p.Schema.Version != n {
		return gonk.Validationf("version", "schema version should be %d", n)
	}
	return nil
}

func (s *SQLite) validateSchemaDeprecate(p gonk.SchemaDeprecate) error {
	id := p.SchemaIdentifier
	n, err := s.versionCount("schemas", id.UUID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gonk.Validationf("uuid", "schema identifier not found")
	}
	if id.Version >= n {
		return gonk.Validationf("version", "version does not exist")
	}
	m, err := s.marksFor(gonk.KindSchema, id)
	if err != nil {
		return err
	}
	if m.rejected {
		return gonk.Validationf("rejected", "cannot deprecate a rejected schema")
	}
	if m.removed {
		return gonk.Validationf("deprecated", "schema version already deprecated")
	}
	return nil
}

func (s *SQLite) validateSchemaRef(id gonk.Identifier) error {
	n, err := s.versionCount("schemas", id.UUID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gonk.Validationf("schema-ref", "schema identifier not found")
	}
	if id.Version >= n {
		return gonk.Validationf("schema-ref", "schema version does not exist")
	}
	m, err := s.marksFor(gonk.KindSchema, id)
	if err != nil {
		return err
	}
	if m.rejected {
		return gonk.Validationf("schema-ref", "rejected schemas cannot be referenced")
	}
	if m.removed {
		return gonk.Validationf("schema-ref", "deprecated schemas cannot be referenced")
	}
	return nil
}

func (s *SQLite) validateAnnotationCreate(p gonk.AnnotationCreate) error {
	n, err := s.versionCount("annotations", p.Annotation.UUID)
	if err != nil {
		return err
	}
	if n != 0 {
		return gonk.Validationf("uuid", "annotation with UUID already exists")
	}
	if p.Annotation.Version != 0 {
		return gonk.Validationf("version", "annotation version must be zero in create event")
	}
	if err := s.validateSchemaRef(p.Annotation.Schema); err != nil {
		return err
	}
	for _, id := range p.ObjectIdentifiers {
		n, err := s.versionCount("objects", id.UUID)
		if err != nil {
			return err
		}
		if n == 0 {
			return gonk.Validationf("object-ref", "object identifier not found")
		}
		if id.Version >= n {
			return gonk.Validationf("object-ref", "object version does not exist")
		}
		m, err := s.marksFor(gonk.KindObject, id)
		if err != nil {
			return err
		}
		if m.rejected {
			return gonk.Validationf("object-ref", "rejected objects cannot be annotated")
		}
		if m.removed {
			return gonk.Validationf("object-ref", "deleted objects cannot be annotated")
		}
	}
	return nil
}

func (s *SQLite) validateAnnotationUpdate(p gonk.AnnotationUpdate) error {
	n, err := s.versionCount("annotations", p.Annotation.UUID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gonk.Validationf("uuid", "no annotations with UUID found")
	}
	prev, err := s.Annotation(gonk.Identifier{UUID: p.Annotation.UUID, Version: n - 1})
	if err != nil {
		return err
	}
	m, err := s.marksFor(gonk.KindAnnotation, prev.Identifier())
	if err != nil {
		return err
	}
	if m.removed {
		return gonk.Validationf("deleted", "annotation version already deleted")
	}
	if prev.Hash == p.Annotation.Hash {
		return gonk.Validationf("unchanged", "annotation hash unchanged")
	}
	if p.Annotation.Version != n {
		return gonk.Validationf("version", "annotation version should be %d", n)
	}
	if err := s.validateSchemaRef(p.Annotation.Schema); err != nil {
		return err
	}

	linked, err := s.ObjectsForAnnotation(p.Annotation.UUID)
	if err != nil {
		return err
	}
	for _, id := range linked {
		m, err := s.marksFor(gonk.KindObject, id)
		if err != nil {
			return err
		}
		if m.removed {
			return gonk.Validationf("object-ref", "annotating a deleted object")
		}
	}
	return nil
}

func (s *SQLite) validateAnnotationDelete(p gonk.AnnotationDelete) error {
	id := p.AnnotationIdentifier
	n, err := s.versionCount("annotations", id.UUID)
	if err != nil {
		return err
	}
	if n == 0 {
		return gonk.Validationf("uuid", "annotation identifier not found")
	}
	if id.Version >= n {
		return gonk.Validationf("version", "version does not exist")
	}
	m, err := s.marksFor(gonk.KindAnnotation, id)
	if err != nil {
		return err
	}
	if m.rejected {
		return gonk.Validationf("rejected", "cannot delete a rejected annotation")
	}
	if m.removed {
		return gonk.Validationf("deleted", "annotation already deleted")
	}
	return nil
}

func (s *SQLite) isOwner(user string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM owners WHERE owner = ?", user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking owner: %w", err)
	}
	return true, nil
}

func (s *SQLite) validateReview(author string, target uuid.UUID, accept bool) error {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM event_review_link WHERE event_uuid = ?", target.String()).Scan(&one)
	if err == nil {
		return gonk.Validationf("reviewed", "event already reviewed")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking review: %w", err)
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
	isOwner, err := s.isOwner(author)
	if err != nil {
		return err
	}
	if !isOwner {
		return gonk.Validationf("owner", "review event from non-owner")
	}

	if !accept {
		return nil
	}

	// Accepting a delete or deprecate requires its target version to still
	// be pending or accepted; competing removal proposals race and only the
	// first accepted one lands.
	var kind gonk.EntityKind
	var id gonk.Identifier
	switch tp := targetEvent.Payload.(type) {
	case gonk.ObjectDelete:
		kind, id = gonk.KindObject, tp.ObjectIdentifier
	case gonk.SchemaDeprecate:
		kind, id = gonk.KindSchema, tp.SchemaIdentifier
	case gonk.AnnotationDelete:
		kind, id = gonk.KindAnnotation, tp.AnnotationIdentifier
	default:
		return nil
	}
	m, err := s.marksFor(kind, id)
	if err != nil {
		return err
	}
	st := m.status(kind)
	if st != gonk.StatusPending && st != gonk.StatusAccepted {
		return gonk.Validationf("review-target", "%s version is %s", kind, st)
	}
	return nil
}

func (s *SQLite) validateOwnerAdd(author string, p gonk.OwnerAdd) error {
	owners, err := s.Owners()
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		if p.Owner != author {
			return gonk.Validationf("owner", "first owner add event must be self authored")
		}
		return nil
	}
	for _, o := range owners {
		if o == p.Owner {
			return gonk.Validationf("owner", "owner already present")
		}
	}
	for _, o := range owners {
		if o == author {
			return nil
		}
	}
	return gonk.Validationf("owner", "only owners can add owners")
}

func (s *SQLite) validateOwnerRemove(author string, p gonk.OwnerRemove) error {
	owners, err := s.Owners()
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return gonk.Validationf("owner", "dataset has no owners to remove")
	}
	authorRank, targetRank := -1, -1
	for i, o := range owners {
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
	if len(owners) == 1 {
		return gonk.Validationf("last-owner", "removing owner would leave the dataset ownerless")
	}
	if authorRank > targetRank {
		return gonk.Validationf("owner-rank", "cannot remove a higher ranking owner")
	}
	return nil
}

// Apply folds a validated event into the projection in one transaction.
func (s *SQLite) Apply(ev *gonk.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO events (uuid, type) VALUES (?, ?)",
		ev.UUID.String(), string(ev.Payload.Kind()))
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}

	switch p := ev.Payload.(type) {
	case gonk.ObjectCreate:
		err = s.applyObjectVersion(tx, ev, p.Object)
	case gonk.ObjectUpdate:
		err = s.applyObjectVersion(tx, ev, p.Object)
	case gonk.ObjectDelete:
		err = s.applyRemovalProposal(tx, ev, gonk.KindObject, p.ObjectIdentifier)
	case gonk.SchemaCreate:
		err = s.applySchemaVersion(tx, ev, p.Schema)
	case gonk.SchemaUpdate:
		err = s.applySchemaVersion(tx, ev, p.Schema)
	case gonk.SchemaDeprecate:
		err = s.applyRemovalProposal(tx, ev, gonk.KindSchema, p.SchemaIdentifier)
	case gonk.AnnotationCreate:
		err = s.applyAnnotationVersion(tx, ev, p.Annotation)
		if err == nil {
			for _, id := range p.ObjectIdentifiers {
				if _, lerr := tx.Exec(`INSERT INTO object_annotation_link
						(object_uuid, object_version, annotation_uuid)
						VALUES (?, ?, ?)`,
					id.UUID.String(), id.Version, p.Annotation.UUID.String()); lerr != nil {
					err = fmt.Errorf("linking annotation: %w", lerr)
					break
				}
			}
		}
	case gonk.AnnotationUpdate:
		err = s.applyAnnotationVersion(tx, ev, p.Annotation)
	case gonk.AnnotationDelete:
		err = s.applyRemovalProposal(tx, ev, gonk.KindAnnotation, p.AnnotationIdentifier)
	case gonk.ReviewAccept:
		err = s.applyReview(tx, ev, p.EventUUID, true)
	case gonk.ReviewReject:
		err = s.applyReview(tx, ev, p.EventUUID, false)
	case gonk.OwnerAdd:
		_, err = tx.Exec("INSERT INTO owners (owner) VALUES (?)", p.Owner)
	case gonk.OwnerRemove:
		_, err = tx.Exec("DELETE FROM owners WHERE owner = ?", p.Owner)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func entityTables(kind gonk.EntityKind) (marksTable, linkTable, linkCol string) {
	switch kind {
	case gonk.KindObject:
		return "object_marks", "object_event_link", "object"
	case gonk.KindSchema:
		return "schema_marks", "schema_event_link", "schema"
	}
	return "annotation_marks", "annotation_event_link", "annotation"
}

func linkEntityEvent(tx *sql.Tx, kind gonk.EntityKind, id gonk.Identifier, ev uuid.UUID) error {
	_, linkTable, col := entityTables(kind)
	_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (%s_uuid, %s_version, event_uuid)
			VALUES (?, ?, ?)`, linkTable, col, col),
		id.UUID.String(), id.Version, ev.String())
	if err != nil {
		return fmt.Errorf("linking event: %w", err)
	}
	return nil
}

func addMark(tx *sql.Tx, kind gonk.EntityKind, id gonk.Identifier, mark string) error {
	table, _, _ := entityTables(kind)
	_, err := tx.Exec(
		"INSERT INTO "+table+" (uuid, version, mark) VALUES (?, ?, ?)",
		id.UUID.String(), id.Version, mark)
	if err != nil {
		return fmt.Errorf("adding mark: %w", err)
	}
	return nil
}

func dropMark(tx *sql.Tx, kind gonk.EntityKind, id gonk.Identifier, mark string) error {
	table, _, _ := entityTables(kind)
	_, err := tx.Exec(
		"DELETE FROM "+table+" WHERE uuid = ? AND version = ? AND mark = ?",
		id.UUID.String(), id.Version, mark)
	if err != nil {
		return fmt.Errorf("dropping mark: %w", err)
	}
	return nil
}

func (s *SQLite) applyObjectVersion(tx *sql.Tx, ev *gonk.Event, o gonk.Object) error {
	_, err := tx.Exec(`INSERT INTO objects
			(uuid, version, name, format, size, hash, hash_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.UUID.String(), o.Version, o.Name, o.Format, o.Size, o.Hash, int(o.HashType))
	if err != nil {
		return fmt.Errorf("inserting object: %w", err)
	}
	if err := addMark(tx, gonk.KindObject, o.Identifier(), markCreatePending); err != nil {
		return err
	}
	return linkEntityEvent(tx, gonk.KindObject, o.Identifier(), ev.UUID)
}

func (s *SQLite) applySchemaVersion(tx *sql.Tx, ev *gonk.Event, sch gonk.Schema) error {
	_, err := tx.Exec(`INSERT INTO schemas
			(uuid, version, name, size, hash, hash_type)
			VALUES (?, ?, ?, ?, ?, ?)`,
		sch.UUID.String(), sch.Version, sch.Name, sch.Size, sch.Hash, int(sch.HashType))
	if err != nil {
		return fmt.Errorf("inserting schema: %w", err)
	}
	if err := addMark(tx, gonk.KindSchema, sch.Identifier(), markCreatePending); err != nil {
		return err
	}
	return linkEntityEvent(tx, gonk.KindSchema, sch.Identifier(), ev.UUID)
}

func (s *SQLite) applyAnnotationVersion(tx *sql.Tx, ev *gonk.Event, a gonk.Annotation) error {
	_, err := tx.Exec(`INSERT INTO annotations
			(uuid, version, schema_uuid, schema_version, size, hash, hash_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.UUID.String(), a.Version, a.Schema.UUID.String(), a.Schema.Version,
		a.Size, a.Hash, int(a.HashType))
	if err != nil {
		return fmt.Errorf("inserting annotation: %w", err)
	}
	if err := addMark(tx, gonk.KindAnnotation, a.Identifier(), markCreatePending); err != nil {
		return err
	}
	return linkEntityEvent(tx, gonk.KindAnnotation, a.Identifier(), ev.UUID)
}

func (s *SQLite) applyRemovalProposal(tx *sql.Tx, ev *gonk.Event, kind gonk.EntityKind, id gonk.Identifier) error {
	if err := addMark(tx, kind, id, markRemovePending); err != nil {
		return err
	}
	return linkEntityEvent(tx, kind, id, ev.UUID)
}

func (s *SQLite) applyReview(tx *sql.Tx, ev *gonk.Event, target uuid.UUID, accept bool) error {
	_, err := tx.Exec(
		"INSERT INTO event_review_link (event_uuid, review_uuid) VALUES (?, ?)",
		target.String(), ev.UUID.String())
	if err != nil {
		return fmt.Errorf("recording review: %w", err)
	}

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

	if removal {
		if err := dropMark(tx, kind, id, markRemovePending); err != nil {
			return err
		}
		if accept {
			if err := addMark(tx, kind, id, markRemoveAccepted); err != nil {
				return err
			}
		}
	} else {
		if err := dropMark(tx, kind, id, markCreatePending); err != nil {
			return err
		}
		if !accept {
			if err := addMark(tx, kind, id, markCreateRejected); err != nil {
				return err
			}
		}
	}
	return linkEntityEvent(tx, kind, id, ev.UUID)
}

// Status returns the projected status of one entity version.
func (s *SQLite) Status(kind gonk.EntityKind, id gonk.Identifier) (gonk.Status, error) {
	table := map[gonk.EntityKind]string{
		gonk.KindObject:     "objects",
		gonk.KindSchema:     "schemas",
		gonk.KindAnnotation: "annotations",
	}[kind]

	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM "+table+" WHERE uuid = ? AND version = ?",
		id.UUID.String(), id.Version).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return "", gonk.NotFoundf(string(kind), "%s", id)
	}
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", kind, err)
	}
	m, err := s.marksFor(kind, id)
	if err != nil {
		return "", err
	}
	return m.status(kind), nil
}
