package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/decred/slog"

	"github.com/gregemax/tycoon"
	"github.com/gregemax/tycoon/backend"
	"github.com/gregemax/tycoon/client"
)

type appMode int

const (
	modeCodeEntry appMode = iota
	modeLobby
	modeGame
	modeError
)

// symbols offered for seat selection, in preference order.
var allSymbols = []string{"hat", "car", "dog", "ship", "boot", "thimble"}

type syncUpdateMsg struct{ u client.Update }

type outcomeMsg struct{ out client.Outcome }

type statusMsg string

type appstate struct {
	sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	cl     *client.Client
	cfg    *client.AppConfig
	log    slog.Logger

	mode  appMode
	input string // code entry buffer

	gameSync *client.Synchronizer
	orch     *client.Orchestrator
	view     *client.GameView

	// pumped tracks which synchronizers already have an update pump, so
	// re-opening a code that reuses a live synchronizer never
	// double-delivers its events.
	pumped map[*client.Synchronizer]bool

	symbolIdx int
	busy      bool

	// Demo perk inventory: token ids handed out in order.
	nextTokenID uint64

	notification string
	err          error

	msgCh    chan tea.Msg
	viewport viewport.Model
}

func newAppstate(ctx context.Context, cancel context.CancelFunc, cl *client.Client, cfg *client.AppConfig, log slog.Logger, code string) *appstate {
	return &appstate{
		ctx:         ctx,
		cancel:      cancel,
		cl:          cl,
		cfg:         cfg,
		log:         log,
		input:       strings.ToUpper(code),
		nextTokenID: 1,
		pumped:      make(map[*client.Synchronizer]bool),
		msgCh:       make(chan tea.Msg, 16),
	}
}

func (m *appstate) waitForMsg() tea.Cmd {
	return func() tea.Msg { return <-m.msgCh }
}

func (m *appstate) Init() tea.Cmd {
	m.viewport = viewport.New(0, 0)
	cmds := []tea.Cmd{m.waitForMsg()}
	if m.input != "" {
		cmds = append(cmds, m.openGame(m.input))
	}
	return tea.Batch(cmds...)
}

// openGame starts (or reuses) the synchronizer for code and pumps its
// updates into the program.
func (m *appstate) openGame(code string) tea.Cmd {
	return func() tea.Msg {
		s, err := m.cl.SyncGame(m.ctx, code)
		if err != nil {
			return statusMsg(fmt.Sprintf("cannot open %s: %v", code, err))
		}
		orch, err := m.cl.Orchestrator(s, func(*client.TransactionIntent) {
			m.Lock()
			m.busy = false
			m.Unlock()
		})
		if err != nil {
			return statusMsg(fmt.Sprintf("orchestrator: %v", err))
		}
		m.Lock()
		m.gameSync = s
		m.orch = orch
		m.mode = modeLobby
		pump := !m.pumped[s]
		m.pumped[s] = true
		m.Unlock()

		if pump {
			go func() {
				for {
					select {
					case <-m.ctx.Done():
						return
					case u := <-s.Updates():
						m.msgCh <- syncUpdateMsg{u: u}
					}
				}
			}()
		}
		return statusMsg(fmt.Sprintf("watching game %s", code))
	}
}

func (m *appstate) joinGame() tea.Cmd {
	m.Lock()
	view := m.view
	if view == nil || m.busy || m.orch == nil {
		m.Unlock()
		return nil
	}
	free := view.AvailableSymbols(allSymbols)
	if len(free) == 0 {
		// Bail before latching busy: nothing will run OnCleanup here.
		m.Unlock()
		return func() tea.Msg { return statusMsg("no symbols left") }
	}
	m.busy = true
	idx := m.symbolIdx
	m.Unlock()
	symbol := free[idx%len(free)]

	username := m.cfg.Username
	if username == "" {
		username = m.cl.ID
	}
	intent := client.NewJoinIntent(client.JoinIntent{
		GameID:   uint64(view.BackendID),
		Code:     view.Code,
		Username: username,
		Symbol:   symbol,
		Stake:    view.StakePerPlayer,
	})
	return func() tea.Msg {
		return outcomeMsg{out: m.orch.Begin(m.ctx, view, intent)}
	}
}

func (m *appstate) burnPerk(kind client.PerkKind, patch backend.PlayerPatch) tea.Cmd {
	m.Lock()
	view := m.view
	if view == nil || m.busy || m.orch == nil {
		m.Unlock()
		return nil
	}
	seat := view.PlayerFor(m.cl.Identity)
	if seat == nil {
		m.Unlock()
		return func() tea.Msg { return statusMsg("not seated in this game") }
	}
	m.busy = true
	tokenID := m.nextTokenID
	m.nextTokenID++
	m.Unlock()

	intent := client.NewPerkIntent(client.PerkIntent{
		Kind:         kind,
		TokenID:      tokenID,
		Code:         view.Code,
		GamePlayerID: seat.GamePlayerID,
		Effect:       patch,
	})
	return func() tea.Msg {
		return outcomeMsg{out: m.orch.Begin(m.ctx, view, intent)}
	}
}

func (m *appstate) leaveGame() tea.Cmd {
	m.Lock()
	view := m.view
	m.Unlock()
	if view == nil || m.cl.Identity.IsGuest() {
		return nil
	}
	return func() tea.Msg {
		if err := m.cl.Backend.Leave(m.ctx, m.cl.Identity.Address, view.Code); err != nil {
			return statusMsg(fmt.Sprintf("leave failed: %v", err))
		}
		m.cl.StopSync(view.Code)
		return statusMsg("left " + view.Code)
	}
}

func (m *appstate) retryEffects() tea.Cmd {
	return func() tea.Msg {
		pending, err := m.cl.Queue.Pending(m.ctx)
		if err != nil {
			return statusMsg(fmt.Sprintf("effect journal: %v", err))
		}
		if len(pending) == 0 {
			return statusMsg("no failed effects to retry")
		}
		var applied int
		for _, e := range pending {
			if err := m.orch.RetryEffect(m.ctx, e.ID); err != nil {
				return statusMsg(fmt.Sprintf("retry stopped: %v", err))
			}
			applied++
		}
		return statusMsg(fmt.Sprintf("re-applied %d effect(s)", applied))
	}
}

func (m *appstate) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Lock()
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height
		m.Unlock()
		return m, nil

	case statusMsg:
		m.Lock()
		m.notification = string(msg)
		m.Unlock()
		return m, m.waitForMsg()

	case syncUpdateMsg:
		m.Lock()
		switch u := msg.u.(type) {
		case client.ViewReplaced:
			m.view = u.View
		case client.Redirected:
			m.view = u.View
			m.mode = modeGame
			m.notification = "game is on"
		case client.SyncFailed:
			if tycoon.Classify(u.Err) == tycoon.KindNotFound {
				m.mode = modeError
				m.err = u.Err
			} else {
				m.notification = fmt.Sprintf("sync trouble: %v", u.Err)
			}
		}
		m.Unlock()
		return m, m.waitForMsg()

	case outcomeMsg:
		m.Lock()
		m.notification = describeOutcome(msg.out)
		m.Unlock()
		return m, m.waitForMsg()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *appstate) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.cancel()
		return m, tea.Quit
	}

	m.Lock()
	mode := m.mode
	m.Unlock()

	switch mode {
	case modeCodeEntry:
		switch {
		case key == "enter":
			m.Lock()
			code := m.input
			m.Unlock()
			if code == "" {
				return m, nil
			}
			return m, m.openGame(code)
		case key == "backspace":
			m.Lock()
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			m.Unlock()
		case msg.Type == tea.KeyRunes:
			m.Lock()
			m.input += strings.ToUpper(string(msg.Runes))
			m.Unlock()
		case key == "q":
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case modeLobby:
		switch key {
		case "q":
			m.cancel()
			return m, tea.Quit
		case "tab":
			m.Lock()
			m.symbolIdx++
			m.Unlock()
			return m, nil
		case "j", "enter":
			return m, m.joinGame()
		case "l":
			return m, m.leaveGame()
		}
		return m, nil

	case modeGame:
		switch key {
		case "q":
			m.cancel()
			return m, tea.Quit
		case "c":
			cash := int64(200)
			return m, m.burnPerk(client.PerkCashBoost, backend.PlayerPatch{Balance: &cash})
		case "t":
			pos := 0 // teleport to GO
			return m, m.burnPerk(client.PerkTeleport, backend.PlayerPatch{Position: &pos})
		case "x":
			free := false
			return m, m.burnPerk(client.PerkJailRelease, backend.PlayerPatch{InJail: &free})
		case "R":
			return m, m.retryEffects()
		}
		return m, nil

	case modeError:
		if key == "q" || key == "enter" {
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

// describeOutcome turns an orchestrator report into the one
// human-readable line the UI shows. The effect-failed hazard gets its
// own unmistakable wording; a wallet cancel stays quiet.
func describeOutcome(out client.Outcome) string {
	switch out.Status {
	case client.CommittedAndApplied:
		return "done"
	case client.CommittedButEffectFailed:
		s := "your stake/asset was already spent on-chain, but the game update failed"
		if out.QueuedEffect != 0 {
			s += "; press R to retry the update"
		}
		return s
	case client.CommitUncertain:
		return fmt.Sprintf("%v", out.Err)
	default: // NotCommitted
		if out.Err == nil || tycoon.Classify(out.Err) == tycoon.KindUserCancelled {
			return ""
		}
		return fmt.Sprintf("not done: %v", out.Err)
	}
}

func (m *appstate) View() string {
	m.Lock()
	defer m.Unlock()

	var b strings.Builder
	switch m.mode {
	case modeCodeEntry:
		fmt.Fprintf(&b, "TYCOON\n\nenter game code: %s_\n", m.input)
		b.WriteString("\n[enter] open  [q] quit\n")

	case modeLobby:
		v := m.view
		if v == nil {
			b.WriteString("loading lobby…\n")
			break
		}
		fmt.Fprintf(&b, "lobby %s  (%s)  %d/%d seats\n", v.Code, v.Status, len(v.Players), v.NumberOfPlayers)
		if v.StakePerPlayer > 0 {
			fmt.Fprintf(&b, "stake per player: %d\n", v.StakePerPlayer)
		}
		if v.IsCreator(m.cl.Identity) {
			b.WriteString("you created this game\n")
		}
		b.WriteString("\nplayers:\n")
		for _, p := range v.Players {
			name := p.Username
			if name == "" {
				name = p.Address
			}
			fmt.Fprintf(&b, "  %-12s %-8s $%d\n", name, p.Symbol, p.Balance)
		}
		free := v.AvailableSymbols(allSymbols)
		if len(free) > 0 {
			fmt.Fprintf(&b, "\nsymbol: %s  [tab] next\n", free[m.symbolIdx%len(free)])
		}
		b.WriteString("\n[j] join  [l] leave  [q] quit\n")

	case modeGame:
		v := m.view
		if v != nil {
			fmt.Fprintf(&b, "game %s is running\n\n", v.Code)
			for _, p := range v.Players {
				jail := ""
				if p.InJail {
					jail = " (jail)"
				}
				fmt.Fprintf(&b, "  %-12s pos %-2d $%d%s\n", p.Username, p.Position, p.Balance, jail)
			}
		}
		b.WriteString("\nperks: [c] cash boost  [t] teleport  [x] jail release\n")
		b.WriteString("[R] retry failed effects  [q] quit\n")

	case modeError:
		fmt.Fprintf(&b, "error: %v\n\n[q] quit\n", m.err)
	}

	if m.notification != "" {
		fmt.Fprintf(&b, "\n%s\n", m.notification)
	}
	return b.String()
}
