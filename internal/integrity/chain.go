// Package integrity links events into a tamper-evident log and verifies the
// result. Two modes exist: a SHA-256 hash chain (default) and per-author
// Ed25519 signatures intended for future multi-writer federation.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// HashChain links each event to its predecessor:
//
//	token_n = SHA-256(canonical(event_n) || token_{n-1})
//
// with the empty byte string standing in for token_{-1}.
type HashChain struct {
	rk gonk.RecordKeeper
}

func NewHashChain(rk gonk.RecordKeeper) *HashChain {
	return &HashChain{rk: rk}
}

func (c *HashChain) tailToken() ([]byte, error) {
	tail, err := c.rk.Tail()
	if err != nil {
		return nil, fmt.Errorf("reading log tail: %w", err)
	}
	if tail == nil {
		return nil, nil
	}
	prev, err := c.rk.Read(*tail)
	if err != nil {
		return nil, fmt.Errorf("reading tail event: %w", err)
	}
	if len(prev.Integrity) == 0 {
		return nil, gonk.Integrityf("chain", "tail event missing integrity")
	}
	return prev.Integrity, nil
}

func (c *HashChain) Link(ev *gonk.Event) error {
	prev, err := c.tailToken()
	if err != nil {
		return err
	}
	token, err := chainToken(ev, prev)
	if err != nil {
		return err
	}
	ev.Integrity = token
	return nil
}

func (c *HashChain) Validate(ev *gonk.Event) error {
	if len(ev.Integrity) == 0 {
		return gonk.Integrityf("chain", "event missing integrity")
	}
	prev, err := c.tailToken()
	if err != nil {
		return err
	}
	want, err := chainToken(ev, prev)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, ev.Integrity) {
		return gonk.Integrityf("chain", "event integrity failed to validate")
	}
	return nil
}

// VerifyAt checks ev's token against an explicit predecessor token, for use
// during log replay.
func (c *HashChain) VerifyAt(ev *gonk.Event, prev []byte) error {
	want, err := chainToken(ev, prev)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, ev.Integrity) {
		return gonk.Integrityf("chain", "event integrity failed to validate")
	}
	return nil
}

func chainToken(ev *gonk.Event, prev []byte) ([]byte, error) {
	canonical, err := ev.Canonical()
	if err != nil {
		return nil, fmt.Errorf("serializing event: %w", err)
	}
	sum := sha256.Sum256(append(canonical, prev...))
	return sum[:], nil
}

// VerifyChain recomputes the hash chain over the whole log. It returns ok
// when every token matches; otherwise firstBad is the sequence of the first
// divergent event, which taints it and everything after it.
func VerifyChain(rk gonk.RecordKeeper) (firstBad uint64, ok bool, err error) {
	count, err := rk.Count()
	if err != nil {
		return 0, false, fmt.Errorf("counting events: %w", err)
	}
	var prev []byte
	for seq := uint64(0); seq < count; seq++ {
		ev, err := rk.At(seq)
		if err != nil {
			return seq, false, nil
		}
		want, err := chainToken(ev, prev)
		if err != nil {
			return seq, false, nil
		}
		if !bytes.Equal(want, ev.Integrity) {
			return seq, false, nil
		}
		prev = ev.Integrity
	}
	return 0, true, nil
}

var _ gonk.Integrity = (*HashChain)(nil)
