package systemadapter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClockIsUTC(t *testing.T) {
	if loc := (Clock{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC clock, got %v", loc)
	}
}

func TestUUIDGeneratorIssuesDistinctIDs(t *testing.T) {
	ctx := context.Background()
	first, err := UUIDGenerator{}.NewID(ctx)
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	second, _ := UUIDGenerator{}.NewID(ctx)
	if first == second {
		t.Fatalf("expected distinct ids, got %q twice", first)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected a uuid, got %q: %v", first, err)
	}
}
