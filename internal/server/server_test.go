package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ComputeHeavy/gonk/internal/app"
	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

type testServer struct {
	e      *echo.Echo
	apiKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	cfg.Record.Type = "memory"
	cfg.State.Type = "memory"
	cfg.Depot.Type = "memory"

	a, err := app.New(cfg, gonk.NewNopLogger())
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	key, err := a.Users().Add("alice")
	if err != nil {
		t.Fatalf("Add(alice) error = %v", err)
	}

	return &testServer{
		e:      New(a, gonk.NewNopLogger()).Echo(),
		apiKey: key,
	}
}

// do issues a request with the test API key and decodes the JSON response.
func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	code, raw := ts.doRaw(t, method, path, body, ts.apiKey)
	if len(raw) == 0 {
		return code, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Listing endpoints return arrays; wrap them for callers.
		var arr []any
		if err := json.Unmarshal(raw, &arr); err != nil {
			t.Fatalf("%s %s: malformed response %s", method, path, raw)
		}
		return code, map[string]any{"items": arr}
	}
	return code, out
}

func (ts *testServer) doRaw(t *testing.T, method, path string, body any, key string) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func b64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

const labelSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {"label": {"type": "string"}},
  "required": ["label"]
}`

// eventUUIDByType scans the event listing for the first event of a kind.
func (ts *testServer) eventUUIDByType(t *testing.T, dataset, kind string) string {
	t.Helper()
	_, resp := ts.do(t, http.MethodGet, "/datasets/"+dataset+"/events", nil)
	for _, item := range resp["items"].([]any) {
		ev := item.(map[string]any)
		if ev["type"] == kind {
			return ev["uuid"].(string)
		}
	}
	t.Fatalf("no %s event found", kind)
	return ""
}

func (ts *testServer) mustCreateDataset(t *testing.T, name string) {
	t.Helper()
	code, resp := ts.do(t, http.MethodPost, "/datasets", map[string]any{"name": name})
	if code != http.StatusOK {
		t.Fatalf("create dataset: code = %d, resp = %v", code, resp)
	}
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.doRaw(t, http.MethodGet, "/datasets", nil, "")
	if code != http.StatusBadRequest {
		t.Errorf("missing key: code = %d, want 400", code)
	}
	code, _ = ts.doRaw(t, http.MethodGet, "/datasets", nil, "gk_wrongwrongwrongwrongwrongwrong")
	if code != http.StatusUnauthorized {
		t.Errorf("bad key: code = %d, want 401", code)
	}
	code, _ = ts.doRaw(t, http.MethodGet, "/datasets", nil, ts.apiKey)
	if code != http.StatusOK {
		t.Errorf("good key: code = %d, want 200", code)
	}
}

func TestDatasetRules(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateDataset(t, "d1")

	code, _ := ts.do(t, http.MethodPost, "/datasets", map[string]any{"name": "d1"})
	if code != http.StatusBadRequest {
		t.Errorf("duplicate dataset: code = %d, want 400", code)
	}
	code, _ = ts.do(t, http.MethodPost, "/datasets", map[string]any{"name": "-bad"})
	if code != http.StatusBadRequest {
		t.Errorf("leading dash: code = %d, want 400", code)
	}
	code, _ = ts.do(t, http.MethodPost, "/datasets", map[string]any{"name": "no spaces"})
	if code != http.StatusBadRequest {
		t.Errorf("bad charset: code = %d, want 400", code)
	}

	code, resp := ts.do(t, http.MethodGet, "/datasets", nil)
	if code != http.StatusOK {
		t.Fatalf("list datasets: code = %d", code)
	}
	names := resp["datasets"].([]any)
	if len(names) != 1 || names[0] != "d1" {
		t.Errorf("datasets = %v, want [d1]", names)
	}
}

// TestSchemaCreateReviewFlow walks the first end-to-end scenario: create,
// observe pending, accept, observe accepted.
func TestSchemaCreateReviewFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateDataset(t, "d1")

	code, resp := ts.do(t, http.MethodPost, "/datasets/d1/schemas", map[string]any{
		"name":   "schema-label",
		"schema": b64([]byte(labelSchema)),
	})
	if code != http.StatusOK {
		t.Fatalf("create schema: code = %d, resp = %v", code, resp)
	}
	if resp["name"] != "schema-label" || resp["versions"].(float64) != 1 {
		t.Errorf("create schema resp = %v", resp)
	}
	schemaUUID := resp["uuid"].(string)

	_, pending := ts.do(t, http.MethodGet, "/datasets/d1/schemas/pending", nil)
	items := pending["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("pending = %v, want one entry", items)
	}
	entry := items[0].(map[string]any)
	if entry["uuid"] != schemaUUID || entry["name"] != "schema-label" || entry["version"].(float64) != 0 {
		t.Errorf("pending entry = %v", entry)
	}

	eventUUID := ts.eventUUIDByType(t, "d1", "SchemaCreateEvent")
	code, _ = ts.do(t, http.MethodPut, "/datasets/d1/events/"+eventUUID+"/accept", nil)
	if code != http.StatusOK {
		t.Fatalf("accept: code = %d", code)
	}

	_, pending = ts.do(t, http.MethodGet, "/datasets/d1/schemas/pending", nil)
	if len(pending["items"].([]any)) != 0 {
		t.Errorf("pending after accept = %v, want empty", pending["items"])
	}
	_, accepted := ts.do(t, http.MethodGet, "/datasets/d1/schemas/accepted", nil)
	if len(accepted["items"].([]any)) != 1 {
		t.Errorf("accepted after accept = %v, want one entry", accepted["items"])
	}
}

// setupAcceptedSchemaAndObject drives the API to an accepted schema-label
// and an accepted object, returning the object's identifier fields.
func setupAcceptedSchemaAndObject(t *testing.T, ts *testServer) (objectUUID string) {
	t.Helper()
	ts.mustCreateDataset(t, "d1")

	code, _ := ts.do(t, http.MethodPost, "/datasets/d1/schemas", map[string]any{
		"name":   "schema-label",
		"schema": b64([]byte(labelSchema)),
	})
	if code != http.StatusOK {
		t.Fatalf("create schema: code = %d", code)
	}
	ev := ts.eventUUIDByType(t, "d1", "SchemaCreateEvent")
	if code, _ := ts.do(t, http.MethodPut, "/datasets/d1/events/"+ev+"/accept", nil); code != http.StatusOK {
		t.Fatalf("accept schema: code = %d", code)
	}

	code, resp := ts.do(t, http.MethodPost, "/datasets/d1/objects", map[string]any{
		"name":     "obj.txt",
		"mimetype": "text/plain",
		"object":   b64([]byte("some bird image bytes")),
	})
	if code != http.StatusOK {
		t.Fatalf("create object: code = %d, resp = %v", code, resp)
	}
	objectUUID = resp["uuid"].(string)
	ev = ts.eventUUIDByType(t, "d1", "ObjectCreateEvent")
	if code, _ := ts.do(t, http.MethodPut, "/datasets/d1/events/"+ev+"/accept", nil); code != http.StatusOK {
		t.Fatalf("accept object: code = %d", code)
	}
	return objectUUID
}

// TestAnnotationValidation walks the second end-to-end scenario.
func TestAnnotationValidation(t *testing.T) {
	ts := newTestServer(t)
	objectUUID := setupAcceptedSchemaAndObject(t, ts)

	code, resp := ts.do(t, http.MethodPost, "/datasets/d1/annotations", map[string]any{
		"schema":             map[string]any{"name": "schema-label"},
		"object_identifiers": []map[string]any{{"uuid": objectUUID, "version": 0}},
		"annotation":         b64([]byte(`{"label": "bird"}`)),
	})
	if code != http.StatusOK {
		t.Fatalf("create annotation: code = %d, resp = %v", code, resp)
	}
	if resp["version"].(float64) != 0 {
		t.Errorf("annotation version = %v, want 0", resp["version"])
	}

	code, resp = ts.do(t, http.MethodPost, "/datasets/d1/annotations", map[string]any{
		"schema":             map[string]any{"name": "schema-label"},
		"object_identifiers": []map[string]any{{"uuid": objectUUID, "version": 0}},
		"annotation":         b64([]byte(`{"label": 42}`)),
	})
	if code != http.StatusConflict {
		t.Fatalf("bad annotation: code = %d, want 409, resp = %v", code, resp)
	}
	errInfo := resp["error"].(map[string]any)
	if errInfo["code"] != "schema" {
		t.Errorf("error code = %v, want schema", errInfo["code"])
	}
}

// TestObjectDigestMismatch walks the third end-to-end scenario.
func TestObjectDigestMismatch(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateDataset(t, "d1")

	data := []byte("real object bytes")
	code, resp := ts.do(t, http.MethodPost, "/datasets/d1/objects", map[string]any{
		"name":     "obj.txt",
		"mimetype": "text/plain",
		"object":   b64(data),
		"hash":     strings.Repeat("0", 64),
		"size":     len(data),
	})
	if code != http.StatusBadRequest {
		t.Fatalf("digest mismatch: code = %d, want 400, resp = %v", code, resp)
	}
	errInfo := resp["error"].(map[string]any)
	if errInfo["code"] != "digest" {
		t.Errorf("error code = %v, want digest", errInfo["code"])
	}

	// The event was not appended.
	_, events := ts.do(t, http.MethodGet, "/datasets/d1/events", nil)
	for _, item := range events["items"].([]any) {
		if item.(map[string]any)["type"] == "ObjectCreateEvent" {
			t.Error("object create event appended despite digest mismatch")
		}
	}

	// A correct declaration is accepted.
	sum := sha256.Sum256(data)
	code, _ = ts.do(t, http.MethodPost, "/datasets/d1/objects", map[string]any{
		"name":     "obj.txt",
		"mimetype": "text/plain",
		"object":   b64(data),
		"hash":     hex.EncodeToString(sum[:]),
		"size":     len(data),
	})
	if code != http.StatusOK {
		t.Errorf("correct declaration: code = %d, want 200", code)
	}
}

// TestOwnerFloor walks the sixth end-to-end scenario.
func TestOwnerFloor(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateDataset(t, "d1")

	code, resp := ts.do(t, http.MethodDelete, "/datasets/d1/owners/alice", nil)
	if code != http.StatusConflict {
		t.Fatalf("remove last owner: code = %d, want 409, resp = %v", code, resp)
	}
	errInfo := resp["error"].(map[string]any)
	if errInfo["code"] != "last-owner" {
		t.Errorf("error code = %v, want last-owner", errInfo["code"])
	}

	code, _ = ts.do(t, http.MethodPut, "/datasets/d1/owners/bob", nil)
	if code != http.StatusOK {
		t.Fatalf("add owner: code = %d", code)
	}
	_, owners := ts.do(t, http.MethodGet, "/datasets/d1/owners", nil)
	if len(owners["items"].([]any)) != 2 {
		t.Errorf("owners = %v, want two", owners["items"])
	}
}

func TestObjectDetailAndPagination(t *testing.T) {
	ts := newTestServer(t)
	objectUUID := setupAcceptedSchemaAndObject(t, ts)

	code, resp := ts.do(t, http.MethodGet, "/datasets/d1/objects/"+objectUUID+"/0", nil)
	if code != http.StatusOK {
		t.Fatalf("object detail: code = %d", code)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp["bytes"].(string))
	if err != nil || string(decoded) != "some bird image bytes" {
		t.Errorf("bytes = %q, err = %v", decoded, err)
	}
	obj := resp["object"].(map[string]any)
	if obj["name"] != "obj.txt" || obj["format"] != "text/plain" {
		t.Errorf("object = %v", obj)
	}
	if len(resp["events"].([]any)) != 2 {
		t.Errorf("events = %v, want create + accept", resp["events"])
	}

	t.Run("unknown after is rejected", func(t *testing.T) {
		code, resp := ts.do(t, http.MethodGet,
			"/datasets/d1/objects?after=9e7f3a2a-1111-4222-8333-444455556666", nil)
		if code != http.StatusBadRequest {
			t.Errorf("unknown after: code = %d, want 400, resp = %v", code, resp)
		}
	})

	t.Run("listing", func(t *testing.T) {
		code, resp := ts.do(t, http.MethodGet, "/datasets/d1/objects", nil)
		if code != http.StatusOK {
			t.Fatalf("list objects: code = %d", code)
		}
		infos := resp["object_infos"].([]any)
		if len(infos) != 1 {
			t.Fatalf("object_infos = %v", infos)
		}
		info := infos[0].(map[string]any)
		if info["uuid"] != objectUUID || info["versions"].(float64) != 1 {
			t.Errorf("object info = %v", info)
		}
	})
}

func TestSchemaVersionDetail(t *testing.T) {
	ts := newTestServer(t)
	setupAcceptedSchemaAndObject(t, ts)

	code, resp := ts.do(t, http.MethodGet, "/datasets/d1/schemas/schema-label/0", nil)
	if code != http.StatusOK {
		t.Fatalf("schema detail: code = %d", code)
	}
	sch := resp["schema"].(map[string]any)
	if sch["format"] != "application/schema+json" || sch["name"] != "schema-label" {
		t.Errorf("schema = %v", sch)
	}
	decoded, _ := base64.StdEncoding.DecodeString(resp["bytes"].(string))
	if string(decoded) != labelSchema {
		t.Errorf("schema bytes mismatch")
	}

	code, _ = ts.do(t, http.MethodGet, "/datasets/d1/schemas/schema-label/7", nil)
	if code != http.StatusNotFound {
		t.Errorf("missing version: code = %d, want 404", code)
	}
}

func TestNotFoundPaths(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateDataset(t, "d1")

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/datasets/nope/schemas"},
		{http.MethodGet, "/datasets/d1/schemas/schema-none"},
		{http.MethodGet, fmt.Sprintf("/datasets/d1/objects/%s", "f0e1d2c3-0000-4000-8000-000000000000")},
	}
	for _, tc := range cases {
		code, _ := ts.do(t, tc.method, tc.path, nil)
		if code != http.StatusNotFound {
			t.Errorf("%s %s: code = %d, want 404", tc.method, tc.path, code)
		}
	}
}
