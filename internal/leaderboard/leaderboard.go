// Package leaderboard ranks agents by the rewards burned on their behalf.
// The board is derived from burn events on every read and never stored.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/state"
)

// Entry is one agent's standing.
type Entry struct {
	agents.Config
	Rank        int        `json:"rank"`
	TotalBurned float64    `json:"total_burned"`
	TasksWon    int        `json:"tasks_won"`
	LastBurnAt  *time.Time `json:"last_burn_at"`
	LastTxHash  *string    `json:"last_tx_hash"`
}

// Board is the ranked leaderboard.
type Board struct {
	Entries     []Entry `json:"data"`
	TotalBurned float64 `json:"total_burned"`
}

// Aggregate builds the board from burn events. Every roster agent gets an
// entry, events for agents outside the roster are ignored, and ties keep
// roster order.
func Aggregate(roster *agents.Roster, events []*state.BurnEvent) Board {
	all := roster.All()
	entries := make([]Entry, len(all))
	for i, a := range all {
		entries[i] = Entry{Config: a}
	}

	var total float64
	for _, ev := range events {
		i := roster.Index(ev.AgentID)
		if i < 0 {
			continue
		}
		e := &entries[i]
		e.TotalBurned += ev.Amount
		e.TasksWon++
		total += ev.Amount
		if e.LastBurnAt == nil || ev.CreatedAt.After(*e.LastBurnAt) {
			at := ev.CreatedAt
			e.LastBurnAt = &at
			e.LastTxHash = nil
			if ev.TxHash != nil {
				tx := *ev.TxHash
				e.LastTxHash = &tx
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalBurned > entries[j].TotalBurned
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return Board{Entries: entries, TotalBurned: total}
}

// Load reads every burn event from store and aggregates them.
func Load(ctx context.Context, store state.Store, roster *agents.Roster) (Board, error) {
	events, err := store.ListBurnEvents(ctx)
	if err != nil {
		return Board{}, fmt.Errorf("list burn events: %w", err)
	}
	return Aggregate(roster, events), nil
}

// Leader returns the top entry, if any agent has burned anything.
func (b Board) Leader() (Entry, bool) {
	if len(b.Entries) == 0 || b.Entries[0].TotalBurned == 0 {
		return Entry{}, false
	}
	return b.Entries[0], true
}
