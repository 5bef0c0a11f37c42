package integrity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/record"
)

func chainEvent(n int, author string) *gonk.Event {
	return &gonk.Event{
		UUID:      uuid.MustParse(fmt.Sprintf("00000000-0000-4000-8000-%012d", n)),
		Author:    author,
		Timestamp: time.Date(2024, 1, 15, 10, 30, n, 0, time.UTC),
		Payload:   gonk.OwnerAdd{Owner: fmt.Sprintf("user-%d", n)},
	}
}

func TestHashChainLinkAndValidate(t *testing.T) {
	rk := record.NewMemory()
	chain := NewHashChain(rk)

	var prev []byte
	for n := 1; n <= 3; n++ {
		ev := chainEvent(n, "alice")
		if err := chain.Link(ev); err != nil {
			t.Fatalf("Link(%d) error = %v", n, err)
		}

		canonical, err := ev.Canonical()
		if err != nil {
			t.Fatalf("Canonical() error = %v", err)
		}
		want := sha256.Sum256(append(canonical, prev...))
		if !bytes.Equal(ev.Integrity, want[:]) {
			t.Errorf("token %d != SHA-256(canonical || prev)", n)
		}

		if err := chain.Validate(ev); err != nil {
			t.Errorf("Validate(%d) error = %v", n, err)
		}
		if err := rk.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		prev = ev.Integrity
	}

	forged := chainEvent(9, "mallory")
	forged.Integrity = []byte("not a real token, wrong length!!")
	if err := chain.Validate(forged); !gonk.IsIntegrity(err) {
		t.Errorf("Validate(forged) error = %v, want IntegrityError", err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	rk := record.NewMemory()
	chain := NewHashChain(rk)

	for n := 1; n <= 5; n++ {
		ev := chainEvent(n, "alice")
		if err := chain.Link(ev); err != nil {
			t.Fatalf("Link() error = %v", err)
		}
		if err := rk.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, ok, err := VerifyChain(rk); err != nil || !ok {
		t.Fatalf("VerifyChain() = (ok=%v, err=%v), want clean pass", ok, err)
	}

	ev, err := rk.At(2)
	if err != nil {
		t.Fatalf("At(2) error = %v", err)
	}
	ev.Author = "mallory"
	forged, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	rk.Tamper(ev.UUID, forged)

	firstBad, ok, err := VerifyChain(rk)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if ok || firstBad != 2 {
		t.Errorf("VerifyChain() = (%d, %v), want (2, false)", firstBad, ok)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	keys, err := NewKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}
	if err := keys.Generate("alice"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	signer := NewSigner(keys)
	ev := chainEvent(1, "alice")
	if err := signer.Link(ev); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if err := signer.Validate(ev); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	t.Run("tampered payload fails", func(t *testing.T) {
		forged := *ev
		forged.Author = "alice"
		forged.Payload = gonk.OwnerAdd{Owner: "mallory"}
		forged.Integrity = ev.Integrity
		if err := signer.Validate(&forged); !gonk.IsIntegrity(err) {
			t.Errorf("Validate(forged) error = %v, want IntegrityError", err)
		}
	})

	t.Run("unknown author fails", func(t *testing.T) {
		stranger := chainEvent(2, "nobody")
		if err := signer.Link(stranger); !gonk.IsNotFound(err) {
			t.Errorf("Link(unknown author) error = %v, want NotFound", err)
		}
	})
}

func TestVerifySignatures(t *testing.T) {
	keys, err := NewKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}
	for _, author := range []string{"alice", "bob"} {
		if err := keys.Generate(author); err != nil {
			t.Fatalf("Generate(%s) error = %v", author, err)
		}
	}

	rk := record.NewMemory()
	signer := NewSigner(keys)
	for n := 1; n <= 4; n++ {
		author := "alice"
		if n%2 == 0 {
			author = "bob"
		}
		ev := chainEvent(n, author)
		if err := signer.Link(ev); err != nil {
			t.Fatalf("Link() error = %v", err)
		}
		if err := rk.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, ok, err := VerifySignatures(rk, keys); err != nil || !ok {
		t.Fatalf("VerifySignatures() = (ok=%v, err=%v), want clean pass", ok, err)
	}

	ev, _ := rk.At(1)
	ev.Author = "alice" // signed by bob
	forged, _ := ev.Encode()
	rk.Tamper(ev.UUID, forged)

	firstBad, ok, err := VerifySignatures(rk, keys)
	if err != nil {
		t.Fatalf("VerifySignatures() error = %v", err)
	}
	if ok || firstBad != 1 {
		t.Errorf("VerifySignatures() = (%d, %v), want (1, false)", firstBad, ok)
	}
}

func TestKeyStore(t *testing.T) {
	dir := t.TempDir()
	keys, err := NewKeyStore(dir)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}

	if keys.Has("alice") {
		t.Error("Has() true before Generate")
	}
	if err := keys.Generate("alice"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !keys.Has("alice") {
		t.Error("Has() false after Generate")
	}
	if err := keys.Generate("alice"); err == nil {
		t.Error("Generate() overwrote an existing key")
	}

	priv, err := keys.SigningKey("alice")
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	pub, err := keys.PublicKey("alice")
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !priv.Public().(ed25519.PublicKey).Equal(pub) {
		t.Error("PublicKey() does not match SigningKey()")
	}

	t.Run("import seed", func(t *testing.T) {
		seed := bytes.Repeat([]byte{0x42}, 32)
		if err := keys.ImportSeed("bob", fmt.Sprintf("%x", seed)); err != nil {
			t.Fatalf("ImportSeed() error = %v", err)
		}
		if _, err := keys.SigningKey("bob"); err != nil {
			t.Errorf("SigningKey(bob) error = %v", err)
		}
	})
}
