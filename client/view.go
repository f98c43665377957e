package client

import (
	"fmt"
	"strings"

	"github.com/gregemax/tycoon"
	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/chain"
)

// Player is one seat in the merged view.
type Player struct {
	GamePlayerID int64
	Address      string
	Username     string
	Symbol       string
	Balance      int64
	Position     int
	InJail       bool
}

// GameView is the merged, client-facing snapshot of one game. The
// backend projection is authoritative for status and roster; the chain
// fields ride along for eligibility checks only (creator detection,
// stake amount, capacity). Views are replaced wholesale on every
// successful fetch, never patched in place.
type GameView struct {
	Code            string
	BackendID       int64
	Status          tycoon.GameStatus
	NumberOfPlayers int
	CurrentTurn     string
	Players         []Player

	// On-chain fields; zero when the chain read was skipped or lagging.
	StakePerPlayer uint64
	JoinedOnChain  uint32
	Creator        string
}

// buildView merges the backend record with the optional chain record.
// onchain may be nil (gateway lagging); the previous view's chain
// fields are carried forward by the synchronizer in that case.
func buildView(rec *backend.GameRecord, onchain *chain.GameOnChain) (*GameView, error) {
	status, err := tycoon.ParseGameStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", rec.Code, err)
	}
	v := &GameView{
		Code:            strings.ToUpper(rec.Code),
		BackendID:       rec.ID,
		Status:          status,
		NumberOfPlayers: rec.NumberOfPlayers,
		CurrentTurn:     rec.CurrentTurn,
		Players:         make([]Player, 0, len(rec.Players)),
	}
	for _, p := range rec.Players {
		v.Players = append(v.Players, Player{
			GamePlayerID: p.ID,
			Address:      p.Address,
			Username:     p.Username,
			Symbol:       p.Symbol,
			Balance:      p.Balance,
			Position:     p.Position,
			InJail:       p.InJail,
		})
	}
	if onchain != nil {
		v.StakePerPlayer = onchain.StakePerPlayer
		v.JoinedOnChain = onchain.JoinedPlayers
		v.Creator = onchain.Creator
	}
	return v, nil
}

// IsFull reports whether every seat is taken.
func (v *GameView) IsFull() bool {
	return v.NumberOfPlayers > 0 && len(v.Players) == v.NumberOfPlayers
}

// IsCreator reports whether id created the game on chain.
func (v *GameView) IsCreator(id Identity) bool {
	return v.Creator != "" && id.Matches(v.Creator)
}

// HasPlayer reports whether id already holds a seat.
func (v *GameView) HasPlayer(id Identity) bool {
	for _, p := range v.Players {
		if id.IsGuest() {
			if p.Address == "" && p.Username == id.Guest {
				return true
			}
		} else if id.Matches(p.Address) {
			return true
		}
	}
	return false
}

// PlayerFor returns id's seat, if any.
func (v *GameView) PlayerFor(id Identity) *Player {
	for i := range v.Players {
		p := &v.Players[i]
		if id.IsGuest() {
			if p.Address == "" && p.Username == id.Guest {
				return p
			}
		} else if id.Matches(p.Address) {
			return p
		}
	}
	return nil
}

// MyTurn reports whether id is entitled to act right now.
func (v *GameView) MyTurn(id Identity) bool {
	if v.CurrentTurn == "" {
		return false
	}
	if id.IsGuest() {
		return v.CurrentTurn == id.Guest
	}
	return strings.EqualFold(v.CurrentTurn, id.Address)
}

// TakenSymbols is the set of symbols in use. Recomputed from the
// roster on every view replacement, never cached: a symbol one player
// holds can never be offered to another.
func (v *GameView) TakenSymbols() map[string]bool {
	taken := make(map[string]bool, len(v.Players))
	for _, p := range v.Players {
		if p.Symbol != "" {
			taken[p.Symbol] = true
		}
	}
	return taken
}

// AvailableSymbols filters all down to symbols no player holds,
// preserving order.
func (v *GameView) AvailableSymbols(all []string) []string {
	taken := v.TakenSymbols()
	out := make([]string, 0, len(all))
	for _, s := range all {
		if !taken[s] {
			out = append(out, s)
		}
	}
	return out
}
