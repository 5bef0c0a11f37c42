package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/record"
)

// harness runs the same behavior suite over every state backend.
type harness struct {
	rk    *record.Memory
	st    gonk.State
	seq   int
	clock time.Time
}

func newHarnesses(t *testing.T) map[string]*harness {
	t.Helper()

	out := make(map[string]*harness)

	rkMem := record.NewMemory()
	out["memory"] = &harness{rk: rkMem, st: NewMemory(rkMem)}

	rkSQL := record.NewMemory()
	sqlite, err := NewSQLite(":memory:", rkSQL)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	out["sqlite"] = &harness{rk: rkSQL, st: sqlite}

	return out
}

func digestOf(data string) (int64, string) {
	sum := sha256.Sum256([]byte(data))
	return int64(len(data)), hex.EncodeToString(sum[:])
}

// event validates and applies a new event, failing the test on error.
func (h *harness) event(t *testing.T, author string, p gonk.Payload) *gonk.Event {
	t.Helper()
	ev := h.build(author, p)
	if err := h.st.Validate(ev); err != nil {
		t.Fatalf("Validate(%s) error = %v", p.Kind(), err)
	}
	h.commit(t, ev)
	return ev
}

func (h *harness) build(author string, p gonk.Payload) *gonk.Event {
	h.seq++
	if h.clock.IsZero() {
		h.clock = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	}
	h.clock = h.clock.Add(time.Second)
	return &gonk.Event{
		UUID:      uuid.MustParse(fmt.Sprintf("00000000-0000-4000-8000-%012d", h.seq)),
		Author:    author,
		Timestamp: h.clock,
		Integrity: []byte{byte(h.seq)},
		Payload:   p,
	}
}

func (h *harness) commit(t *testing.T, ev *gonk.Event) {
	t.Helper()
	if err := h.rk.Append(ev); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := h.st.Apply(ev); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
}

func (h *harness) object(name, content string) gonk.Object {
	size, hash := digestOf(content)
	return gonk.Object{
		UUID:     uuid.New(),
		Version:  0,
		Name:     name,
		Format:   "text/plain",
		Size:     size,
		HashType: gonk.HashTypeSHA256,
		Hash:     hash,
	}
}

func (h *harness) schema(name, content string) gonk.Schema {
	size, hash := digestOf(content)
	return gonk.Schema{
		UUID:     uuid.New(),
		Version:  0,
		Name:     name,
		Size:     size,
		HashType: gonk.HashTypeSHA256,
		Hash:     hash,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) { fn(t, h) })
	}
}

func TestStatusLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		obj := h.object("obj.txt", "v0")
		create := h.event(t, "bob", gonk.ObjectCreate{Object: obj})

		st, err := h.st.Status(gonk.KindObject, obj.Identifier())
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st != gonk.StatusPending {
			t.Errorf("status = %s, want pending", st)
		}

		h.event(t, "alice", gonk.ReviewAccept{EventUUID: create.UUID})
		if st, _ = h.st.Status(gonk.KindObject, obj.Identifier()); st != gonk.StatusAccepted {
			t.Errorf("status after accept = %s, want accepted", st)
		}

		del := h.event(t, "bob", gonk.ObjectDelete{ObjectIdentifier: obj.Identifier()})
		if st, _ = h.st.Status(gonk.KindObject, obj.Identifier()); st != gonk.StatusAccepted {
			t.Errorf("status with pending delete = %s, want accepted", st)
		}
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: del.UUID})
		if st, _ = h.st.Status(gonk.KindObject, obj.Identifier()); st != gonk.StatusDeleted {
			t.Errorf("status after delete accept = %s, want deleted", st)
		}
	})
}

func TestRejectedCreateStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})
		obj := h.object("obj.txt", "v0")
		create := h.event(t, "bob", gonk.ObjectCreate{Object: obj})
		h.event(t, "alice", gonk.ReviewReject{EventUUID: create.UUID})

		st, _ := h.st.Status(gonk.KindObject, obj.Identifier())
		if st != gonk.StatusRejected {
			t.Errorf("status = %s, want rejected", st)
		}
		if err := h.st.Validate(h.build("bob",
			gonk.ObjectDelete{ObjectIdentifier: obj.Identifier()})); !gonk.IsValidation(err) {
			t.Errorf("delete of rejected version: err = %v, want ValidationError", err)
		}
	})
}

func TestSchemaNameUniqueness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		first := h.schema("schema-label", "{}")
		create := h.event(t, "bob", gonk.SchemaCreate{Schema: first})

		dup := h.schema("schema-label", `{"type":"object"}`)
		if err := h.st.Validate(h.build("bob", gonk.SchemaCreate{Schema: dup})); !gonk.IsValidation(err) {
			t.Errorf("duplicate schema name: err = %v, want ValidationError", err)
		}

		// Rejection does not free the name.
		rejected := h.schema("schema-doomed", "{}")
		rejCreate := h.event(t, "bob", gonk.SchemaCreate{Schema: rejected})
		h.event(t, "alice", gonk.ReviewReject{EventUUID: rejCreate.UUID})
		retry := h.schema("schema-doomed", `{"type":"object"}`)
		if err := h.st.Validate(h.build("bob", gonk.SchemaCreate{Schema: retry})); !gonk.IsValidation(err) {
			t.Errorf("name after rejection: err = %v, want ValidationError", err)
		}

		// Deprecating every version frees the name.
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: create.UUID})
		dep := h.event(t, "bob", gonk.SchemaDeprecate{SchemaIdentifier: first.Identifier()})
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: dep.UUID})

		if err := h.st.Validate(h.build("bob", gonk.SchemaCreate{Schema: dup})); err != nil {
			t.Errorf("name after full deprecation: err = %v, want nil", err)
		}
	})
}

func TestDenseVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		obj := h.object("obj.txt", "v0")
		h.event(t, "bob", gonk.ObjectCreate{Object: obj})

		// Version must be exactly max+1.
		skip := obj
		skip.Version = 2
		size, hash := digestOf("v2")
		skip.Size, skip.Hash = size, hash
		if err := h.st.Validate(h.build("bob", gonk.ObjectUpdate{Object: skip})); !gonk.IsValidation(err) {
			t.Errorf("gapped version: err = %v, want ValidationError", err)
		}

		for v := 1; v <= 3; v++ {
			next := obj
			next.Version = v
			next.Size, next.Hash = digestOf(fmt.Sprintf("v%d", v))
			h.event(t, "bob", gonk.ObjectUpdate{Object: next})
		}
		n, err := h.st.ObjectVersions(obj.UUID)
		if err != nil {
			t.Fatalf("ObjectVersions() error = %v", err)
		}
		if n != 4 {
			t.Errorf("versions = %d, want 4", n)
		}
		for v := 0; v < 4; v++ {
			if _, err := h.st.Object(gonk.Identifier{UUID: obj.UUID, Version: v}); err != nil {
				t.Errorf("version %d missing: %v", v, err)
			}
		}
	})
}

func TestAnnotationLinks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		sch := h.schema("schema-label", "{}")
		schCreate := h.event(t, "bob", gonk.SchemaCreate{Schema: sch})
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: schCreate.UUID})

		obj := h.object("obj.txt", "v0")
		objCreate := h.event(t, "bob", gonk.ObjectCreate{Object: obj})
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: objCreate.UUID})

		size, hash := digestOf(`{"label":"bird"}`)
		ann := gonk.Annotation{
			UUID:     uuid.New(),
			Version:  0,
			Schema:   sch.Identifier(),
			Size:     size,
			HashType: gonk.HashTypeSHA256,
			Hash:     hash,
		}
		h.event(t, "bob", gonk.AnnotationCreate{
			Annotation:        ann,
			ObjectIdentifiers: []gonk.Identifier{obj.Identifier()},
		})

		forward, err := h.st.AnnotationsForObject(obj.Identifier())
		if err != nil {
			t.Fatalf("AnnotationsForObject() error = %v", err)
		}
		if len(forward) != 1 || forward[0] != ann.UUID {
			t.Errorf("forward links = %v, want [%s]", forward, ann.UUID)
		}
		reverse, err := h.st.ObjectsForAnnotation(ann.UUID)
		if err != nil {
			t.Fatalf("ObjectsForAnnotation() error = %v", err)
		}
		if len(reverse) != 1 || reverse[0] != obj.Identifier() {
			t.Errorf("reverse links = %v, want [%v]", reverse, obj.Identifier())
		}
	})
}

func TestPagination(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		var created []uuid.UUID
		for i := 0; i < 5; i++ {
			obj := h.object(fmt.Sprintf("obj-%d.txt", i), fmt.Sprintf("content-%d", i))
			h.event(t, "bob", gonk.ObjectCreate{Object: obj})
			created = append(created, obj.UUID)
		}

		page, err := h.st.Objects(nil, 2)
		if err != nil {
			t.Fatalf("Objects() error = %v", err)
		}
		if len(page) != 2 || page[0].UUID != created[0] || page[1].UUID != created[1] {
			t.Fatalf("first page = %v", page)
		}

		cursor := page[1].UUID
		page, err = h.st.Objects(&cursor, 2)
		if err != nil {
			t.Fatalf("Objects(after) error = %v", err)
		}
		if len(page) != 2 || page[0].UUID != created[2] {
			t.Errorf("second page = %v", page)
		}

		unknown := uuid.New()
		if _, err := h.st.Objects(&unknown, 2); !gonk.IsValidation(err) {
			t.Errorf("unknown cursor: err = %v, want ValidationError", err)
		}
	})
}

func TestOwnerRules(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		if err := h.st.Validate(h.build("alice", gonk.OwnerAdd{Owner: "bob"})); !gonk.IsValidation(err) {
			t.Errorf("first owner not self: err = %v, want ValidationError", err)
		}
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})
		h.event(t, "alice", gonk.OwnerAdd{Owner: "bob"})

		if err := h.st.Validate(h.build("mallory", gonk.OwnerAdd{Owner: "mallory"})); !gonk.IsValidation(err) {
			t.Errorf("non-owner adding owner: err = %v, want ValidationError", err)
		}
		if err := h.st.Validate(h.build("bob", gonk.OwnerRemove{Owner: "alice"})); !gonk.IsValidation(err) {
			t.Errorf("junior removing senior: err = %v, want ValidationError", err)
		}

		h.event(t, "alice", gonk.OwnerRemove{Owner: "bob"})
		if err := h.st.Validate(h.build("alice", gonk.OwnerRemove{Owner: "alice"})); !gonk.IsValidation(err) {
			t.Errorf("removing last owner: err = %v, want ValidationError", err)
		}
	})
}

// TestBackendsAgree replays one mixed history into both backends and checks
// the projections match.
func TestBackendsAgree(t *testing.T) {
	type snapshot struct {
		owners   []string
		statuses []gonk.Status
		events   []gonk.EventInfo
	}

	run := func(t *testing.T, h *harness) snapshot {
		h.event(t, "alice", gonk.OwnerAdd{Owner: "alice"})

		sch := h.schema("schema-label", "{}")
		sch.UUID = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")
		schCreate := h.event(t, "bob", gonk.SchemaCreate{Schema: sch})
		h.event(t, "alice", gonk.ReviewAccept{EventUUID: schCreate.UUID})

		obj := h.object("obj.txt", "v0")
		obj.UUID = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002")
		objCreate := h.event(t, "bob", gonk.ObjectCreate{Object: obj})
		h.event(t, "alice", gonk.ReviewReject{EventUUID: objCreate.UUID})

		var statuses []gonk.Status
		for _, probe := range []struct {
			kind gonk.EntityKind
			id   gonk.Identifier
		}{
			{gonk.KindSchema, sch.Identifier()},
			{gonk.KindObject, obj.Identifier()},
		} {
			st, err := h.st.Status(probe.kind, probe.id)
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			statuses = append(statuses, st)
		}

		owners, _ := h.st.Owners()
		events, _ := h.st.Events(nil, 100)
		return snapshot{owners: owners, statuses: statuses, events: events}
	}

	backends := newHarnesses(t)
	memSnap := run(t, backends["memory"])
	sqlSnap := run(t, backends["sqlite"])

	if fmt.Sprint(memSnap.owners) != fmt.Sprint(sqlSnap.owners) {
		t.Errorf("owners diverge: %v vs %v", memSnap.owners, sqlSnap.owners)
	}
	if fmt.Sprint(memSnap.statuses) != fmt.Sprint(sqlSnap.statuses) {
		t.Errorf("statuses diverge: %v vs %v", memSnap.statuses, sqlSnap.statuses)
	}
	if fmt.Sprint(memSnap.events) != fmt.Sprint(sqlSnap.events) {
		t.Errorf("event projections diverge")
	}
}
