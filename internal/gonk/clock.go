package gonk

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so pipeline logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts UUID allocation so tests are deterministic.
type IDGenerator interface {
	New() uuid.UUID
}

// UUIDGenerator produces version-4 random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() uuid.UUID { return uuid.New() }
