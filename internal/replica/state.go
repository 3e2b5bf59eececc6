package replica

import (
	"sort"

	"prompt-master/internal/notify"
	"prompt-master/internal/store"
)

// State is one replica's view of a game. It is eventually consistent and
// never written back.
type State struct {
	Game         store.Game          `json:"game"`
	Participants []store.Participant `json:"participants"`
}

// Reconcile applies one change to s and returns the new state. Changes for
// other games and rows older than the ones held are ignored.
func Reconcile(s State, change notify.Change) State {
	if change.GameID != s.Game.ID {
		return s
	}
	switch change.Kind {
	case notify.KindGame:
		if change.Game == nil || change.Game.Version < s.Game.Version {
			return s
		}
		s.Game = *change.Game
	case notify.KindParticipant:
		if change.Participant != nil {
			s.Participants = reconcileParticipant(s.Participants, change.Op, *change.Participant)
		}
	}
	return s
}

func reconcileParticipant(rows []store.Participant, op notify.Op, row store.Participant) []store.Participant {
	out := make([]store.Participant, 0, len(rows)+1)
	found := false
	for _, p := range rows {
		if p.UserID != row.UserID {
			out = append(out, p)
			continue
		}
		found = true
		if stale(p, row) {
			out = append(out, p)
			continue
		}
		if op != notify.OpDelete {
			out = append(out, row)
		}
	}
	if !found && op != notify.OpDelete {
		out = append(out, row)
	}
	sortParticipants(out)
	return out
}

// stale reports whether incoming is older than held. A rejoin creates a new
// row with a higher id.
func stale(held, incoming store.Participant) bool {
	if incoming.ID != held.ID {
		return incoming.ID < held.ID
	}
	return incoming.Version < held.Version
}

func sortParticipants(rows []store.Participant) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// Master returns the seated master, if any.
func (s State) Master() (store.Participant, bool) {
	for _, p := range s.Participants {
		if p.IsCurrentMaster {
			return p, true
		}
	}
	return store.Participant{}, false
}
