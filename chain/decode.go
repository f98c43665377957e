package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gregemax/tycoon"
)

// Contract calls return positional JSON arrays. Decoding happens here,
// at the boundary: callers only ever see typed records or a decode
// error, never a raw tuple.

// game tuple layout: [status, stakePerPlayer, joinedPlayers, capacity,
// creator]. Numbers arrive as strings so amounts survive gateways that
// route through double-precision JSON.
const gameTupleArity = 5

func decodeGameTuple(code string, tuple []json.RawMessage) (*GameOnChain, error) {
	if len(tuple) != gameTupleArity {
		return nil, fmt.Errorf("game tuple: want %d fields, got %d", gameTupleArity, len(tuple))
	}
	status, err := tupleUint(tuple[0], "status")
	if err != nil {
		return nil, err
	}
	if status > 3 {
		return nil, fmt.Errorf("game tuple: status %d out of range", status)
	}
	stake, err := tupleUint(tuple[1], "stakePerPlayer")
	if err != nil {
		return nil, err
	}
	joined, err := tupleUint(tuple[2], "joinedPlayers")
	if err != nil {
		return nil, err
	}
	capacity, err := tupleUint(tuple[3], "capacity")
	if err != nil {
		return nil, err
	}
	if capacity == 0 {
		return nil, fmt.Errorf("game tuple: zero capacity")
	}
	if joined > capacity {
		return nil, fmt.Errorf("game tuple: joined %d exceeds capacity %d", joined, capacity)
	}
	creator, err := tupleAddress(tuple[4], "creator")
	if err != nil {
		return nil, err
	}
	return &GameOnChain{
		Code:           code,
		Status:         tycoon.GameStatusFromChain(uint8(status)),
		StakePerPlayer: stake,
		JoinedPlayers:  uint32(joined),
		Capacity:       uint32(capacity),
		Creator:        creator,
	}, nil
}

// allowance tuple layout: [amount].
func decodeAllowanceTuple(owner, spender string, tuple []json.RawMessage) (*Allowance, error) {
	if len(tuple) != 1 {
		return nil, fmt.Errorf("allowance tuple: want 1 field, got %d", len(tuple))
	}
	amount, err := tupleUint(tuple[0], "amount")
	if err != nil {
		return nil, err
	}
	return &Allowance{Owner: owner, Spender: spender, Amount: amount}, nil
}

func tupleUint(raw json.RawMessage, field string) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad numeric string %q", field, s)
		}
		return n, nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%s: not a number: %s", field, string(raw))
	}
	return n, nil
}

func tupleAddress(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: not a string: %s", field, string(raw))
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return "", fmt.Errorf("%s: bad address %q", field, s)
	}
	return s, nil
}
