// Package notify carries row-level change notifications between server
// instances. Delivery is at-least-once and ordered per row; a closed
// subscription channel means changes may have been lost and the subscriber
// must refetch.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"prompt-master/internal/store"
)

type Kind string

const (
	KindGame        Kind = "game"
	KindParticipant Kind = "participant"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row event. Game or Participant holds the full new row; for
// deletes it holds the removed row.
type Change struct {
	GameID      int64              `json:"gameId"`
	Kind        Kind               `json:"kind"`
	Op          Op                 `json:"op"`
	Origin      string             `json:"origin,omitempty"`
	Game        *store.Game        `json:"game,omitempty"`
	Participant *store.Participant `json:"participant,omitempty"`
}

func GameChange(op Op, game store.Game) Change {
	return Change{GameID: game.ID, Kind: KindGame, Op: op, Game: &game}
}

func ParticipantChange(op Op, p store.Participant) Change {
	return Change{GameID: p.GameID, Kind: KindParticipant, Op: op, Participant: &p}
}

func (c Change) Validate() error {
	switch c.Kind {
	case KindGame:
		if c.Game == nil {
			return fmt.Errorf("game change without row")
		}
	case KindParticipant:
		if c.Participant == nil {
			return fmt.Errorf("participant change without row")
		}
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	switch c.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown change op %q", c.Op)
	}
	if c.GameID <= 0 {
		return fmt.Errorf("change without game id")
	}
	return nil
}

func Encode(c Change) ([]byte, error) {
	return json.Marshal(c)
}

func Decode(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, err
	}
	if err := c.Validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}

// Bus publishes changes and fans them out to per-game subscribers.
type Bus interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe returns a channel of changes for one game and a cancel func.
	// The channel is closed when the subscription is cancelled or lost.
	Subscribe(ctx context.Context, gameID int64) (<-chan Change, func(), error)
	Close() error
}
