package users

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gonk.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerateKeyShape(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "gk_") || len(key) != 35 {
		t.Errorf("key %q does not match gk_<32 alphanumerics>", key)
	}
}

func TestAddAuthenticate(t *testing.T) {
	s := openStore(t)

	key, err := s.Add("alice")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	username, err := s.Authenticate(key)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if username != "alice" {
		t.Errorf("Authenticate() = %q, want alice", username)
	}

	if _, err := s.Authenticate("gk_bogusbogusbogusbogusbogusbogus"); !gonk.IsNotFound(err) {
		t.Errorf("Authenticate(bogus) error = %v, want NotFound", err)
	}
}

func TestAddRejectsBadUsernames(t *testing.T) {
	s := openStore(t)
	for _, bad := range []string{"", "has space", "semi;colon", "sla/sh"} {
		if _, err := s.Add(bad); !gonk.IsValidation(err) {
			t.Errorf("Add(%q) error = %v, want ValidationError", bad, err)
		}
	}
	if _, err := s.Add("ok.user_name-1"); err != nil {
		t.Errorf("Add(valid) error = %v", err)
	}
}

func TestAddDuplicate(t *testing.T) {
	s := openStore(t)
	if _, err := s.Add("alice"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := s.Add("alice"); err == nil {
		t.Error("Add() accepted a duplicate username")
	}
}

func TestRekey(t *testing.T) {
	s := openStore(t)
	old, err := s.Add("alice")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	fresh, err := s.Rekey("alice")
	if err != nil {
		t.Fatalf("Rekey() error = %v", err)
	}
	if fresh == old {
		t.Error("Rekey() returned the old key")
	}
	if _, err := s.Authenticate(old); !gonk.IsNotFound(err) {
		t.Errorf("old key still authenticates: err = %v", err)
	}
	if username, err := s.Authenticate(fresh); err != nil || username != "alice" {
		t.Errorf("Authenticate(fresh) = (%q, %v)", username, err)
	}

	if _, err := s.Rekey("nobody"); !gonk.IsNotFound(err) {
		t.Errorf("Rekey(missing) error = %v, want NotFound", err)
	}
}

func TestList(t *testing.T) {
	s := openStore(t)
	for _, u := range []string{"alice", "bob"} {
		if _, err := s.Add(u); err != nil {
			t.Fatalf("Add(%s) error = %v", u, err)
		}
	}
	list, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Username != "alice" || list[1].Username != "bob" {
		t.Errorf("List() = %v", list)
	}
}
