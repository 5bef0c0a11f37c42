package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// statusCondition returns a WHERE fragment selecting entity rows (aliased E)
// whose derived status matches. The marks table is aliased via marksTable.
func statusCondition(marksTable string, status gonk.Status) (string, []any) {
	exists := func(markList string) string {
		return `EXISTS (SELECT 1 FROM ` + marksTable + ` M
			WHERE M.uuid = E.uuid AND M.version = E.version AND M.mark IN (` + markList + `))`
	}
	switch status {
	case gonk.StatusPending:
		return exists("?"), []any{markCreatePending}
	case gonk.StatusRejected:
		return exists("?"), []any{markCreateRejected}
	case gonk.StatusDeleted, gonk.StatusDeprecated:
		return exists("?"), []any{markRemoveAccepted}
	}
	// accepted: none of the disqualifying marks
	return "NOT " + exists("?, ?, ?"),
		[]any{markCreatePending, markCreateRejected, markRemoveAccepted}
}

// cursorCondition anchors pagination past every version of the after UUID,
// matching the in-memory projection's creation-order semantics.
func (s *SQLite) cursorCondition(entityTable string, after *uuid.UUID) (string, []any, error) {
	if after == nil {
		return "", nil, nil
	}
	n, err := s.versionCount(entityTable, *after)
	if err != nil {
		return "", nil, err
	}
	if n == 0 {
		return "", nil, gonk.Validationf("after", "unknown pagination cursor")
	}
	cond := `(SELECT MIN(id) FROM ` + entityTable + ` WHERE uuid = E.uuid) >
		(SELECT MIN(id) FROM ` + entityTable + ` WHERE uuid = ?)`
	return cond, []any{after.String()}, nil
}

func (s *SQLite) listByStatus(entityTable, marksTable string, status gonk.Status,
	after *uuid.UUID, limit int) ([]gonk.Identifier, error) {

	statusCond, params := statusCondition(marksTable, status)
	where := statusCond
	cursorCond, cursorParams, err := s.cursorCondition(entityTable, after)
	if err != nil {
		return nil, err
	}
	if cursorCond != "" {
		where += " AND " + cursorCond
		params = append(params, cursorParams...)
	}
	params = append(params, limit)

	rows, err := s.db.Query(`SELECT E.uuid, E.version
		FROM `+entityTable+` E
		WHERE `+where+`
		ORDER BY (SELECT MIN(id) FROM `+entityTable+` WHERE uuid = E.uuid), E.version
		LIMIT ?`, params...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", entityTable, err)
	}
	defer rows.Close()

	ids := []gonk.Identifier{}
	for rows.Next() {
		var raw string
		var version int
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", entityTable, err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		ids = append(ids, gonk.Identifier{UUID: u, Version: version})
	}
	return ids, rows.Err()
}

func (s *SQLite) listInfos(entityTable string, after *uuid.UUID, limit int) ([]gonk.ObjectInfo, error) {
	where := "1=1"
	params := []any{}
	cursorCond, cursorParams, err := s.cursorCondition(entityTable, after)
	if err != nil {
		return nil, err
	}
	if cursorCond != "" {
		// The cursor subqueries reference E; rebind them over the grouped rows.
		where = `(SELECT MIN(id) FROM ` + entityTable + ` WHERE uuid = E.uuid) >
			(SELECT MIN(id) FROM ` + entityTable + ` WHERE uuid = ?)`
		params = append(params, cursorParams...)
	}
	params = append(params, limit)

	rows, err := s.db.Query(`SELECT E.uuid, COUNT(*)
		FROM `+entityTable+` E
		WHERE `+where+`
		GROUP BY E.uuid
		ORDER BY MIN(E.id)
		LIMIT ?`, params...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", entityTable, err)
	}
	defer rows.Close()

	infos := []gonk.ObjectInfo{}
	for rows.Next() {
		var raw string
		var versions int
		if err := rows.Scan(&raw, &versions); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", entityTable, err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		infos = append(infos, gonk.ObjectInfo{UUID: u, Versions: versions})
	}
	return infos, rows.Err()
}

func (s *SQLite) Objects(after *uuid.UUID, limit int) ([]gonk.ObjectInfo, error) {
	return s.listInfos("objects", after, limit)
}

func (s *SQLite) Object(id gonk.Identifier) (*gonk.Object, error) {
	var o gonk.Object
	var raw string
	var ht int
	err := s.db.QueryRow(`SELECT uuid, version, name, format, size, hash, hash_type
			FROM objects WHERE uuid = ? AND version = ?`,
		id.UUID.String(), id.Version).
		Scan(&raw, &o.Version, &o.Name, &o.Format, &o.Size, &o.Hash, &ht)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gonk.NotFoundf("object", "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	if o.UUID, err = uuid.Parse(raw); err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	o.HashType = gonk.HashType(ht)
	return &o, nil
}

func (s *SQLite) ObjectVersions(u uuid.UUID) (int, error) {
	n, err := s.versionCount("objects", u)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, gonk.NotFoundf("object", "%s", u)
	}
	return n, nil
}

func (s *SQLite) ObjectsByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	return s.listByStatus("objects", "object_marks", status, after, limit)
}

func (s *SQLite) Schemas() ([]gonk.SchemaInfo, error) {
	rows, err := s.db.Query(`SELECT S.uuid, MIN(S.name), COUNT(*)
		FROM schemas S
		GROUP BY S.uuid
		ORDER BY MIN(S.id)`)
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	defer rows.Close()

	infos := []gonk.SchemaInfo{}
	for rows.Next() {
		var raw, name string
		var versions int
		if err := rows.Scan(&raw, &name, &versions); err != nil {
			return nil, fmt.Errorf("scanning schema row: %w", err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		infos = append(infos, gonk.SchemaInfo{Name: name, UUID: u, Versions: versions})
	}
	return infos, rows.Err()
}

// schemaUUIDForName resolves name to the most recently created schema UUID
// holding it.
func (s *SQLite) schemaUUIDForName(name string) (uuid.UUID, error) {
	var raw string
	err := s.db.QueryRow(`SELECT uuid FROM schemas
		WHERE name = ? ORDER BY id DESC LIMIT 1`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.UUID{}, gonk.NotFoundf("schema", "%s", name)
	}
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("resolving schema name: %w", err)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parsing stored uuid: %w", err)
	}
	return u, nil
}

func (s *SQLite) SchemaInfoByName(name string) (*gonk.SchemaInfo, error) {
	u, err := s.schemaUUIDForName(name)
	if err != nil {
		return nil, err
	}
	versions, err := s.versionCount("schemas", u)
	if err != nil {
		return nil, err
	}
	return &gonk.SchemaInfo{Name: name, UUID: u, Versions: versions}, nil
}

func (s *SQLite) schemaAt(id gonk.Identifier) (*gonk.Schema, error) {
	var sch gonk.Schema
	var raw string
	var ht int
	err := s.db.QueryRow(`SELECT uuid, version, name, size, hash, hash_type
			FROM schemas WHERE uuid = ? AND version = ?`,
		id.UUID.String(), id.Version).
		Scan(&raw, &sch.Version, &sch.Name, &sch.Size, &sch.Hash, &ht)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gonk.NotFoundf("schema", "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if sch.UUID, err = uuid.Parse(raw); err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	sch.HashType = gonk.HashType(ht)
	return &sch, nil
}

func (s *SQLite) Schema(name string, version int) (*gonk.Schema, error) {
	u, err := s.schemaUUIDForName(name)
	if err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, gonk.NotFoundf("schema", "%s version %d", name, version)
	}
	sch, err := s.schemaAt(gonk.Identifier{UUID: u, Version: version})
	if gonk.IsNotFound(err) {
		return nil, gonk.NotFoundf("schema", "%s version %d", name, version)
	}
	return sch, err
}

func (s *SQLite) SchemasByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	return s.listByStatus("schemas", "schema_marks", status, after, limit)
}

func (s *SQLite) ResolveSchema(name string, version *int) (gonk.Identifier, error) {
	u, err := s.schemaUUIDForName(name)
	if err != nil {
		return gonk.Identifier{}, err
	}
	n, err := s.versionCount("schemas", u)
	if err != nil {
		return gonk.Identifier{}, err
	}
	v := n - 1
	if version != nil {
		v = *version
	}
	if v < 0 || v >= n {
		return gonk.Identifier{}, gonk.NotFoundf("schema", "%s version %d", name, v)
	}
	return gonk.Identifier{UUID: u, Version: v}, nil
}

func (s *SQLite) SchemaNameOf(u uuid.UUID) (string, error) {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM schemas WHERE uuid = ? ORDER BY version LIMIT 1`,
		u.String()).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", gonk.NotFoundf("schema", "%s", u)
	}
	if err != nil {
		return "", fmt.Errorf("reading schema name: %w", err)
	}
	return name, nil
}

func (s *SQLite) Annotations(after *uuid.UUID, limit int) ([]gonk.AnnotationInfo, error) {
	infos, err := s.listInfos("annotations", after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]gonk.AnnotationInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, gonk.AnnotationInfo{UUID: info.UUID, Versions: info.Versions})
	}
	return out, nil
}

func (s *SQLite) Annotation(id gonk.Identifier) (*gonk.Annotation, error) {
	var a gonk.Annotation
	var raw, schemaRaw string
	var ht int
	err := s.db.QueryRow(`SELECT uuid, version, schema_uuid, schema_version, size, hash, hash_type
			FROM annotations WHERE uuid = ? AND version = ?`,
		id.UUID.String(), id.Version).
		Scan(&raw, &a.Version, &schemaRaw, &a.Schema.Version, &a.Size, &a.Hash, &ht)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gonk.NotFoundf("annotation", "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading annotation: %w", err)
	}
	if a.UUID, err = uuid.Parse(raw); err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	if a.Schema.UUID, err = uuid.Parse(schemaRaw); err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	a.HashType = gonk.HashType(ht)
	return &a, nil
}

func (s *SQLite) AnnotationVersions(u uuid.UUID) (int, error) {
	n, err := s.versionCount("annotations", u)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, gonk.NotFoundf("annotation", "%s", u)
	}
	return n, nil
}

func (s *SQLite) AnnotationsByStatus(status gonk.Status, after *uuid.UUID, limit int) ([]gonk.Identifier, error) {
	return s.listByStatus("annotations", "annotation_marks", status, after, limit)
}

func (s *SQLite) AnnotationsForObject(id gonk.Identifier) ([]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT annotation_uuid FROM object_annotation_link
			WHERE object_uuid = ? AND object_version = ?`,
		id.UUID.String(), id.Version)
	if err != nil {
		return nil, fmt.Errorf("listing annotation links: %w", err)
	}
	defer rows.Close()

	out := []uuid.UUID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) ObjectsForAnnotation(u uuid.UUID) ([]gonk.Identifier, error) {
	rows, err := s.db.Query(`SELECT object_uuid, object_version
			FROM object_annotation_link WHERE annotation_uuid = ?`, u.String())
	if err != nil {
		return nil, fmt.Errorf("listing object links: %w", err)
	}
	defer rows.Close()

	out := []gonk.Identifier{}
	for rows.Next() {
		var raw string
		var version int
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		ou, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		out = append(out, gonk.Identifier{UUID: ou, Version: version})
	}
	return out, rows.Err()
}

func (s *SQLite) EventsFor(kind gonk.EntityKind, id gonk.Identifier) ([]uuid.UUID, error) {
	_, linkTable, col := entityTables(kind)
	rows, err := s.db.Query(fmt.Sprintf(`SELECT L.event_uuid
			FROM %s L
			JOIN events EV ON EV.uuid = L.event_uuid
			WHERE L.%s_uuid = ? AND L.%s_version = ?
			ORDER BY EV.seq`, linkTable, col, col),
		id.UUID.String(), id.Version)
	if err != nil {
		return nil, fmt.Errorf("listing entity events: %w", err)
	}
	defer rows.Close()

	out := []uuid.UUID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) Events(after *uuid.UUID, limit int) ([]gonk.EventInfo, error) {
	where := ""
	params := []any{}
	if after != nil {
		var seq int64
		err := s.db.QueryRow(
			"SELECT seq FROM events WHERE uuid = ?", after.String()).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gonk.Validationf("after", "unknown pagination cursor")
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		where = "WHERE seq > ?"
		params = append(params, seq)
	}
	params = append(params, limit)

	rows, err := s.db.Query(
		"SELECT uuid, type FROM events "+where+" ORDER BY seq LIMIT ?", params...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	infos := []gonk.EventInfo{}
	for rows.Next() {
		var raw, kind string
		if err := rows.Scan(&raw, &kind); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing stored uuid: %w", err)
		}
		infos = append(infos, gonk.EventInfo{UUID: u, Kind: gonk.Kind(kind)})
	}
	return infos, rows.Err()
}

func (s *SQLite) ReviewOf(eventUUID uuid.UUID) (*uuid.UUID, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT review_uuid FROM event_review_link WHERE event_uuid = ?",
		eventUUID.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading review: %w", err)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	return &u, nil
}

func (s *SQLite) Owners() ([]string, error) {
	rows, err := s.db.Query("SELECT owner FROM owners ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scanning owner row: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

var _ gonk.State = (*SQLite)(nil)
