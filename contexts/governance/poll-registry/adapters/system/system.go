// Package systemadapter holds the wall-clock and UUID implementations shared
// by every storage driver.
package systemadapter

import (
	"context"
	"time"

	"archvote/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
)

// Clock implements ports.Clock using wall-clock UTC time.
type Clock struct{}

func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGenerator issues UUIDv4 event and outbox identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.Clock = Clock{}
var _ ports.IDGenerator = UUIDGenerator{}
