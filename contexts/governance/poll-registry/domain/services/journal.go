package services

import (
	"sort"

	"archvote/contexts/governance/poll-registry/domain/entities"
)

// TrackChanges turns on the change journal. Registries without a persistence
// target leave it off so the journal never grows.
func (r *Registry) TrackChanges() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracking = true
}

// record journals a change at the current revision. Callers hold the write lock.
func (r *Registry) record(change entities.Change) {
	if !r.tracking {
		return
	}
	change.Revision = r.revision
	r.journal = append(r.journal, change)
}

// PendingChanges returns everything journaled since the last MarkPersisted.
// Polls carry their current state, so a poll touched twice appears once.
func (r *Registry) PendingChanges() (entities.RegistryDelta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delta := entities.RegistryDelta{
		Owner:      r.owner,
		NextPollID: r.nextID,
		Revision:   r.revision,
	}
	if len(r.journal) == 0 {
		return delta, false
	}

	delta.Changes = append([]entities.Change(nil), r.journal...)
	touched := make(map[entities.PollID]struct{})
	for _, change := range r.journal {
		touched[change.PollID] = struct{}{}
		if change.Kind == entities.ChangeVoteCast {
			delta.Votes = append(delta.Votes, change.Vote)
		}
	}
	ids := make([]entities.PollID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	delta.Polls = make([]entities.Poll, 0, len(ids))
	for _, id := range ids {
		delta.Polls = append(delta.Polls, r.polls[id].Clone())
	}
	return delta, true
}

// MarkPersisted drops journal entries at or below revision.
func (r *Registry) MarkPersisted(revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.journal[:0]
	for _, change := range r.journal {
		if change.Revision > revision {
			kept = append(kept, change)
		}
	}
	r.journal = kept
}
