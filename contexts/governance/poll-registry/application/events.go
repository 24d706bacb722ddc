package application

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"archvote/contexts/governance/poll-registry/domain/entities"
	"archvote/contexts/governance/poll-registry/ports"
)

const (
	closeReasonCaller  = "closed_by_caller"
	closeReasonExpired = "expired"
)

// Events are partitioned by poll so consumers see one poll's history in
// order. The registry revision travels in the payload for deduplication.
func newChangeEnvelope(eventID string, change entities.Change, poll entities.Poll) (ports.EventEnvelope, error) {
	occurredAt := time.Unix(change.At, 0).UTC()
	data := map[string]any{
		"poll_id":  change.PollID,
		"revision": change.Revision,
	}
	switch change.Kind {
	case entities.ChangePollCreated:
		data["creator"] = poll.Creator
		data["title"] = poll.Title
		data["options"] = poll.Options
		data["start_time"] = poll.StartTime
		data["end_time"] = poll.EndTime
		data["option_count"] = len(poll.Options)
	case entities.ChangeVoteCast:
		data["wallet_address"] = change.Vote.WalletAddress
		data["option_index"] = change.Vote.OptionIndex
	case entities.ChangePollClosed:
		reason := closeReasonCaller
		if change.ClosedBy == "" {
			reason = closeReasonExpired
		}
		data["closed_by"] = change.ClosedBy
		data["reason"] = reason
		data["closed_at"] = occurredAt.Format(time.RFC3339)
	default:
		return ports.EventEnvelope{}, fmt.Errorf("unknown registry change %q", change.Kind)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        string(change.Kind),
		OccurredAt:       occurredAt,
		SourceService:    "poll-registry",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     strconv.FormatUint(change.PollID, 10),
		Data:             payload,
	}, nil
}
