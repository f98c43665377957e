package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/slog"

	"github.com/gregemax/tycoon"
)

// Gateway error codes, mirrored from the wallet gateway's API.
const (
	codeReverted     = -32000
	codeNotIndexed   = -32004
	codeInsufficient = -32010
	codeUserRejected = -32040
)

const (
	defaultConfirmPoll = 2 * time.Second
	defaultConfirmWait = 90 * time.Second
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	BaseURL string
	Wallet  *Wallet
	Log     slog.Logger

	// HTTPClient may be nil; a client with a sane timeout is used.
	HTTPClient *http.Client

	// ConfirmPoll is the interval between confirmation reads.
	ConfirmPoll time.Duration
	// ConfirmWait bounds AwaitConfirmation; past it the caller gets
	// tycoon.ErrConfirmationTimeout. The transaction may still land.
	ConfirmWait time.Duration
}

// Gateway talks JSON over HTTP to the wallet gateway fronting the game
// contracts. Reads return positional tuples that are decoded before
// they leave this package; writes are signed envelopes.
type Gateway struct {
	base   string
	wallet *Wallet
	log    slog.Logger
	hc     *http.Client

	confirmPoll time.Duration
	confirmWait time.Duration

	mu    sync.Mutex
	nonce uint64
}

var (
	_ Reader    = (*Gateway)(nil)
	_ Submitter = (*Gateway)(nil)
)

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("gateway must have logger")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	poll := cfg.ConfirmPoll
	if poll <= 0 {
		poll = defaultConfirmPoll
	}
	wait := cfg.ConfirmWait
	if wait <= 0 {
		wait = defaultConfirmWait
	}
	return &Gateway{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		wallet:      cfg.Wallet,
		log:         cfg.Log,
		hc:          hc,
		confirmPoll: poll,
		confirmWait: wait,
		nonce:       uint64(time.Now().UnixNano()),
	}, nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (g *Gateway) Game(ctx context.Context, code string) (*GameOnChain, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := g.call(ctx, "game", []any{code})
	if err != nil {
		return nil, err
	}
	if isNull(res) {
		return nil, fmt.Errorf("game %s on chain: %w", code, tycoon.ErrNotFound)
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(res, &tuple); err != nil {
		return nil, fmt.Errorf("game %s: result not a tuple: %w", code, err)
	}
	return decodeGameTuple(code, tuple)
}

func (g *Gateway) AllowanceOf(ctx context.Context, owner, spender string) (*Allowance, error) {
	res, err := g.call(ctx, "allowance", []any{owner, spender})
	if err != nil {
		return nil, err
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(res, &tuple); err != nil {
		return nil, fmt.Errorf("allowance: result not a tuple: %w", err)
	}
	return decodeAllowanceTuple(owner, spender, tuple)
}

func (g *Gateway) Approve(ctx context.Context, spender string, amount uint64) (TxHandle, error) {
	return g.submit(ctx, "approve", []any{spender, strconv.FormatUint(amount, 10)})
}

func (g *Gateway) Join(ctx context.Context, gameID uint64, username, symbol, code string) (TxHandle, error) {
	return g.submit(ctx, "join", []any{
		strconv.FormatUint(gameID, 10), username, symbol, strings.ToUpper(code),
	})
}

func (g *Gateway) Burn(ctx context.Context, tokenID uint64) (TxHandle, error) {
	return g.submit(ctx, "burn", []any{strconv.FormatUint(tokenID, 10)})
}

// AwaitConfirmation polls the gateway until the transaction reaches
// confs confirmations. A transaction the gateway does not know yet
// counts as zero confirmations; only ctx or the configured wait ends
// the poll early.
func (g *Gateway) AwaitConfirmation(ctx context.Context, h TxHandle, confs uint32) error {
	deadline := time.NewTimer(g.confirmWait)
	defer deadline.Stop()
	tick := time.NewTicker(g.confirmPoll)
	defer tick.Stop()

	txid := h.String()
	for {
		got, err := g.confirmations(ctx, txid)
		if err == nil && got >= confs {
			return nil
		}
		if err != nil && !tycoon.Transient(err) {
			return err
		}
		if err != nil {
			g.log.Debugf("gateway: confirmations(%s) failed: %v", txid, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("await %s: %w", txid, tycoon.ErrConfirmationTimeout)
		case <-deadline.C:
			return fmt.Errorf("await %s after %s: %w", txid, g.confirmWait, tycoon.ErrConfirmationTimeout)
		case <-tick.C:
		}
	}
}

func (g *Gateway) confirmations(ctx context.Context, txid string) (uint32, error) {
	res, err := g.call(ctx, "confirmations", []any{txid})
	if err != nil {
		return 0, err
	}
	var n uint32
	if err := json.Unmarshal(res, &n); err != nil {
		return 0, fmt.Errorf("confirmations: bad result %s", string(res))
	}
	return n, nil
}

func (g *Gateway) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return nil, err
	}
	return g.post(ctx, g.base+"/call", body)
}

// submit signs the envelope with the wallet key and returns the txid
// handle the gateway assigns.
func (g *Gateway) submit(ctx context.Context, method string, params []any) (TxHandle, error) {
	var zero TxHandle
	if g.wallet == nil {
		return zero, fmt.Errorf("submit %s: no wallet: %w", method, tycoon.ErrNotYetEligible)
	}

	g.mu.Lock()
	g.nonce++
	nonce := g.nonce
	g.mu.Unlock()

	payload := map[string]any{
		"from":   g.wallet.Address(),
		"method": method,
		"params": params,
		"nonce":  nonce,
	}
	signed, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}
	sig, err := g.wallet.Sign(signed)
	if err != nil {
		return zero, err
	}
	payload["pubkey"] = g.wallet.PubKeyHex()
	payload["sig"] = hex.EncodeToString(sig)
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}

	res, err := g.post(ctx, g.base+"/submit", body)
	if err != nil {
		return zero, fmt.Errorf("submit %s: %w", method, err)
	}
	var out struct {
		Txid string `json:"txid"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return zero, fmt.Errorf("submit %s: bad result: %w", method, err)
	}
	var h chainhash.Hash
	if err := chainhash.Decode(&h, out.Txid); err != nil {
		return zero, fmt.Errorf("submit %s: bad txid %q: %w", method, out.Txid, err)
	}
	g.log.Debugf("gateway: submitted %s txid=%s", method, out.Txid)
	return h, nil
}

func (g *Gateway) post(ctx context.Context, url string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tycoon.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tycoon.ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: gateway status %d", tycoon.ErrUnavailable, resp.StatusCode)
	}
	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gateway: bad response: %w", err)
	}
	if out.Error != nil {
		return nil, gatewayError(out.Error)
	}
	return out.Result, nil
}

func gatewayError(e *rpcError) error {
	switch e.Code {
	case codeNotIndexed:
		return fmt.Errorf("%s: %w", e.Message, tycoon.ErrNotIndexed)
	case codeReverted:
		return fmt.Errorf("%s: %w", e.Message, tycoon.ErrReverted)
	case codeInsufficient:
		return fmt.Errorf("%s: %w", e.Message, tycoon.ErrInsufficientFunds)
	case codeUserRejected:
		return fmt.Errorf("%s: %w", e.Message, tycoon.ErrUserCancelled)
	default:
		return fmt.Errorf("gateway error %d: %s", e.Code, e.Message)
	}
}

func isNull(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t == "" || t == "null"
}
