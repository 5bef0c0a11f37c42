package testutil

import (
	"errors"
	"io"
	"testing"

	"github.com/ComputeHeavy/gonk/internal/depot"
	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/integrity"
	"github.com/ComputeHeavy/gonk/internal/record"
	"github.com/ComputeHeavy/gonk/internal/state"
)

// Fixture bundles a dataset engine with handles to its in-memory backends
// so tests can inspect or corrupt them directly.
type Fixture struct {
	Dataset *gonk.Dataset
	Records *record.Memory
	Depot   *depot.Memory
	State   *state.Memory
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// NewFixture assembles a hash-chain dataset over in-memory backends with a
// deterministic clock and id generator.
func NewFixture(t *testing.T, name string) *Fixture {
	t.Helper()

	rk := record.NewMemory()
	dep := depot.NewMemory()
	st := state.NewMemory(rk)
	clock := FixedClock()
	ids := NewStubIDGenerator()
	ds := gonk.NewDataset(name, rk, dep, st,
		integrity.NewHashChain(rk), clock, ids, gonk.NewNopLogger())

	return &Fixture{
		Dataset: ds,
		Records: rk,
		Depot:   dep,
		State:   st,
		Clock:   clock,
		IDs:     ids,
	}
}

// FailingDepot wraps a depot and fails every Write while Fail is set;
// Writes counts the writes passed through. Use to exercise the repair path.
type FailingDepot struct {
	Inner  gonk.Depot
	Writes int
	Fail   bool
}

var ErrWriteFailed = errors.New("depot write failed")

func (d *FailingDepot) Write(id gonk.Identifier, r io.Reader, size int64, digest string) error {
	if d.Fail {
		return ErrWriteFailed
	}
	d.Writes++
	return d.Inner.Write(id, r, size, digest)
}

func (d *FailingDepot) Read(id gonk.Identifier, w io.Writer) error {
	return d.Inner.Read(id, w)
}

func (d *FailingDepot) Exists(id gonk.Identifier) (bool, error) {
	return d.Inner.Exists(id)
}

func (d *FailingDepot) Purge(id gonk.Identifier) error {
	return d.Inner.Purge(id)
}

var _ gonk.Depot = (*FailingDepot)(nil)
