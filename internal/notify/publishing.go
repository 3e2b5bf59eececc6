package notify

import (
	"context"

	"prompt-master/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Publishing wraps a Store and publishes the full row after every game or
// participant write. A failed publish is logged; subscribers recover through
// their refetch on reconnect.
type Publishing struct {
	store.Store
	bus    Bus
	origin string
}

func NewPublishing(inner store.Store, bus Bus) *Publishing {
	return &Publishing{Store: inner, bus: bus, origin: uuid.NewString()}
}

func (p *Publishing) publish(ctx context.Context, change Change) {
	change.Origin = p.origin
	if err := p.bus.Publish(ctx, change); err != nil {
		log.WithFields(log.Fields{
			"game_id": change.GameID,
			"kind":    change.Kind,
			"op":      change.Op,
		}).Warnf("change publish failed: %v", err)
	}
}

func (p *Publishing) CreateGame(ctx context.Context, game store.Game) (store.Game, error) {
	created, err := p.Store.CreateGame(ctx, game)
	if err == nil {
		p.publish(ctx, GameChange(OpInsert, created))
	}
	return created, err
}

func (p *Publishing) UpdateGameIf(ctx context.Context, id int64, guard store.Guard, changes store.GameChanges) (store.Game, bool, error) {
	game, applied, err := p.Store.UpdateGameIf(ctx, id, guard, changes)
	if err == nil && applied {
		p.publish(ctx, GameChange(OpUpdate, game))
	}
	return game, applied, err
}

func (p *Publishing) AddParticipant(ctx context.Context, participant store.Participant) (store.Participant, bool, error) {
	row, created, err := p.Store.AddParticipant(ctx, participant)
	if err == nil && created {
		p.publish(ctx, ParticipantChange(OpInsert, row))
	}
	return row, created, err
}

func (p *Publishing) SetReady(ctx context.Context, gameID int64, userID string, ready bool) (store.Participant, error) {
	row, err := p.Store.SetReady(ctx, gameID, userID, ready)
	if err == nil {
		p.publish(ctx, ParticipantChange(OpUpdate, row))
	}
	return row, err
}

func (p *Publishing) SetGuess(ctx context.Context, gameID int64, userID string, round int, text string) (store.Participant, error) {
	row, err := p.Store.SetGuess(ctx, gameID, userID, round, text)
	if err == nil {
		p.publish(ctx, ParticipantChange(OpUpdate, row))
	}
	return row, err
}

func (p *Publishing) SetSimilarities(ctx context.Context, gameID int64, round int, scores map[string]float64) ([]store.Participant, error) {
	rows, err := p.Store.SetSimilarities(ctx, gameID, round, scores)
	if err == nil {
		for _, row := range rows {
			p.publish(ctx, ParticipantChange(OpUpdate, row))
		}
	}
	return rows, err
}

func (p *Publishing) AwardPoints(ctx context.Context, gameID int64, userID string, round, points int) (store.Participant, bool, error) {
	row, awarded, err := p.Store.AwardPoints(ctx, gameID, userID, round, points)
	if err == nil && awarded {
		p.publish(ctx, ParticipantChange(OpUpdate, row))
	}
	return row, awarded, err
}

func (p *Publishing) ResetParticipants(ctx context.Context, gameID int64, masterID string, round int) ([]store.Participant, error) {
	rows, err := p.Store.ResetParticipants(ctx, gameID, masterID, round)
	if err == nil {
		for _, row := range rows {
			p.publish(ctx, ParticipantChange(OpUpdate, row))
		}
	}
	return rows, err
}

func (p *Publishing) RemoveParticipant(ctx context.Context, gameID int64, userID string) (store.Participant, bool, error) {
	row, removed, err := p.Store.RemoveParticipant(ctx, gameID, userID)
	if err == nil && removed {
		p.publish(ctx, ParticipantChange(OpDelete, row))
	}
	return row, removed, err
}
