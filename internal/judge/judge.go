// Package judge scores guesses against a master prompt and picks the round's
// winning guess deterministically.
package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var ErrUnavailable = errors.New("similarity backend unavailable")

// Backend returns one similarity per guess, each compared to master.
type Backend interface {
	Similarities(ctx context.Context, master string, guesses []string) ([]float64, error)
}

type Entry struct {
	UserID      string
	Text        string
	SubmittedAt time.Time
	Sentinel    bool
}

type Result struct {
	Scores   map[string]float64
	WinnerID string
}

type Judge struct {
	backend Backend
}

func New(backend Backend) *Judge {
	return &Judge{backend: backend}
}

// Judge scores every entry and selects the winner: highest similarity, then
// earliest submission, then lowest user id. Sentinel entries never win.
func (j *Judge) Judge(ctx context.Context, master string, entries []Entry) (Result, error) {
	result := Result{Scores: make(map[string]float64, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}
	guesses := make([]string, len(entries))
	for i, entry := range entries {
		guesses[i] = entry.Text
	}
	scores, err := j.backend.Similarities(ctx, master, guesses)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(scores) != len(entries) {
		return Result{}, fmt.Errorf("%w: got %d scores for %d guesses", ErrUnavailable, len(scores), len(entries))
	}

	ranked := make([]int, 0, len(entries))
	for i, entry := range entries {
		result.Scores[entry.UserID] = clamp(scores[i])
		if !entry.Sentinel {
			ranked = append(ranked, i)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ea, eb := entries[ranked[a]], entries[ranked[b]]
		sa, sb := result.Scores[ea.UserID], result.Scores[eb.UserID]
		if sa != sb {
			return sa > sb
		}
		if !ea.SubmittedAt.Equal(eb.SubmittedAt) {
			return ea.SubmittedAt.Before(eb.SubmittedAt)
		}
		return ea.UserID < eb.UserID
	})
	if len(ranked) > 0 {
		result.WinnerID = entries[ranked[0]].UserID
	}
	return result, nil
}

func clamp(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
