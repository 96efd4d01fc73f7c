package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vendsys/sunday/pkg/directory"
	"github.com/vendsys/sunday/pkg/drop"
	"github.com/vendsys/sunday/pkg/inventory"
	"github.com/vendsys/sunday/pkg/machine"
	"github.com/vendsys/sunday/pkg/protocol"
)

const defaultStoreTimeout = 5 * time.Second

// Usage strings appended to the invalid-arg-count reply.
const (
	usageUser        = " USAGE: USER <username>"
	usagePass        = " USAGE: PASS <password>"
	usageIButton     = " - USAGE: IBUTTON <ibutton number>"
	usageMachine     = " - USAGE: MACHINE <machine alias>"
	usageSendCredits = " - USAGE: SENDCREDITS <username> <num credits>"
)

// verbFunc handles one verb. It returns true when the connection should
// close.
type verbFunc func(ctx context.Context, sess *Session, args []string, w *protocol.Writer) bool

// Config tunes the handler.
type Config struct {
	// StoreTimeout bounds directory and inventory calls made directly
	// by verb handlers. Zero selects the default.
	StoreTimeout time.Duration
}

// Handler dispatches protocol lines to verb handlers. One Handler is
// shared by all sessions; per-connection state lives in the Session.
type Handler struct {
	registry     *machine.Registry
	directory    directory.Service
	inventory    inventory.Store
	pipeline     *drop.Pipeline
	logger       *slog.Logger
	storeTimeout time.Duration

	verbs map[string]verbFunc
}

// NewHandler creates the command dispatcher.
func NewHandler(
	registry *machine.Registry,
	dir directory.Service,
	inv inventory.Store,
	pipeline *drop.Pipeline,
	cfg Config,
	logger *slog.Logger,
) *Handler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry:     registry,
		directory:    dir,
		inventory:    inv,
		pipeline:     pipeline,
		logger:       logger,
		storeTimeout: cfg.StoreTimeout,
	}
	h.verbs = map[string]verbFunc{
		"USER":        h.handleUser,
		"PASS":        h.handlePass,
		"IBUTTON":     h.handleIButton,
		"GETBALANCE":  h.handleGetBalance,
		"MACHINE":     h.handleMachine,
		"DROP":        h.handleDrop,
		"STAT":        h.handleStat,
		"TEMP":        h.handleTemp,
		"WHOAMI":      h.handleWhoami,
		"SENDCREDITS": h.handleSendCredits,
		"QUIT":        h.handleQuit,
	}
	return h
}

// Handle processes one inbound line for sess and returns true when the
// connection should close. Tokenization is fixed by the protocol: strip
// trailing CR/LF, split on single spaces, uppercase the first token.
func (h *Handler) Handle(ctx context.Context, sess *Session, line string, w *protocol.Writer) bool {
	line = strings.TrimRight(line, "\r\n")
	tokens := strings.Split(line, " ")

	verb := strings.ToUpper(tokens[0])
	fn, ok := h.verbs[verb]
	if !ok {
		w.Send(protocol.CodeBadCommand)
		return false
	}
	return fn(ctx, sess, tokens, w)
}

// handleUser records a pending username for PASS.
func (h *Handler) handleUser(_ context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	if len(args) != 2 {
		w.SendExtra(protocol.CodeBadArgCount, usageUser)
		return false
	}
	sess.PendingUser = args[1]
	w.Send(protocol.CodeOK)
	return false
}

// handlePass authenticates the pending username against the directory.
func (h *Handler) handlePass(ctx context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	if len(args) != 2 {
		w.SendExtra(protocol.CodeBadArgCount, usagePass)
		return false
	}
	if sess.PendingUser == "" {
		w.Send(protocol.CodeUserFirst)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	acct, err := h.directory.Authenticate(ctx, sess.PendingUser, args[1])
	switch {
	case errors.Is(err, directory.ErrInvalidCredentials):
		w.Send(protocol.CodeBadPassword)
	case err != nil:
		h.logger.Error("directory fault during PASS", "session", sess.ID, "error", err)
		w.Send(protocol.CodeUnknownFailure)
	default:
		sess.Identity = &Identity{Username: acct.Username, Method: directory.AuthPassword, Admin: acct.Admin}
		sess.Balance = acct.Balance
		h.logger.Info("authenticated", "session", sess.ID, "username", acct.Username, "method", directory.AuthPassword)
		w.SendExtra(protocol.CodeOK, strconv.Itoa(acct.Balance))
	}
	return false
}

// handleIButton authenticates a hardware token serial.
func (h *Handler) handleIButton(ctx context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	if len(args) != 2 {
		w.SendExtra(protocol.CodeBadArgCount, usageIButton)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	acct, err := h.directory.AuthenticateToken(ctx, args[1])
	switch {
	case errors.Is(err, directory.ErrInvalidCredentials):
		h.logger.Warn("ibutton rejected", "session", sess.ID)
		w.Send(protocol.CodeBadIButton)
	case err != nil:
		h.logger.Error("directory fault during IBUTTON", "session", sess.ID, "error", err)
		w.Send(protocol.CodeUnknownFailure)
	default:
		sess.Identity = &Identity{Username: acct.Username, Method: directory.AuthToken, Admin: acct.Admin}
		sess.Balance = acct.Balance
		h.logger.Info("authenticated", "session", sess.ID, "username", acct.Username, "method", directory.AuthToken)
		w.SendExtra(protocol.CodeOK, strconv.Itoa(acct.Balance))
	}
	return false
}

// handleGetBalance re-queries the ledger and refreshes the cache.
func (h *Handler) handleGetBalance(ctx context.Context, sess *Session, _ []string, w *protocol.Writer) bool {
	if !sess.Authenticated() {
		w.Send(protocol.CodeLoginRequired)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	balance, err := h.directory.Balance(ctx, sess.Username())
	switch {
	case errors.Is(err, directory.ErrUserNotFound):
		w.Send(protocol.CodeLoginRequired)
	case err != nil:
		h.logger.Error("directory fault during GETBALANCE", "session", sess.ID, "error", err)
		w.Send(protocol.CodeUnknownFailure)
	default:
		sess.Balance = balance
		w.SendExtra(protocol.CodeOK, strconv.Itoa(balance))
	}
	return false
}

// handleMachine selects the target machine for DROP, STAT, and TEMP.
func (h *Handler) handleMachine(_ context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	if len(args) != 2 {
		w.SendExtra(protocol.CodeBadArgCount, usageMachine)
		return false
	}

	mach, ok := h.registry.Get(args[1])
	if !ok {
		w.SendExtra(protocol.CodeBadMachine, usageMachine)
		return false
	}
	sess.SelectedMachine = mach.Alias
	h.logger.Info("machine selected", "session", sess.ID, "machine", mach.Alias)
	w.SendExtra(protocol.CodeOK, " Welcome to "+mach.DisplayName)
	return false
}

// handleDrop runs the purchase pipeline. No login gate here: an
// unauthenticated session carries no balance and fails the pipeline's
// funds check instead.
func (h *Handler) handleDrop(ctx context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	req := drop.Request{
		Machine:  sess.SelectedMachine,
		Username: sess.Username(),
		Balance:  sess.Balance,
		Owner:    sess.ID,
	}
	if len(args) > 1 {
		req.SlotToken = args[1]
	}
	if len(args) > 2 {
		req.DelayToken = args[2]
	}

	result := h.pipeline.Run(ctx, req)
	if result.Charged {
		sess.Balance = result.NewBalance
	}
	w.SendExtra(result.Code, result.Extra)
	return false
}

// handleStat lists every slot of the selected machine followed by a
// summary line, as one OK_ALT payload.
func (h *Handler) handleStat(ctx context.Context, sess *Session, _ []string, w *protocol.Writer) bool {
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	slots, err := h.inventory.Slots(ctx, sess.SelectedMachine)
	if err != nil {
		h.logger.Error("inventory fault during STAT", "session", sess.ID, "machine", sess.SelectedMachine, "error", err)
		w.Send(protocol.CodeStatUnavailable)
		return false
	}

	var sb strings.Builder
	for _, slot := range slots {
		enabled := 0
		if slot.Enabled {
			enabled = 1
		}
		fmt.Fprintf(&sb, "%d %q %d %d %d\n", slot.Number, slot.ItemName, slot.Price, slot.Available, enabled)
	}
	fmt.Fprintf(&sb, "OK %d Slots retrieved", len(slots))
	w.SendExtra(protocol.CodeOKAlt, sb.String())
	return false
}

// handleTemp reads the selected machine's compressor temperature.
func (h *Handler) handleTemp(ctx context.Context, sess *Session, _ []string, w *protocol.Writer) bool {
	if sess.SelectedMachine == "" {
		w.Send(protocol.CodeNoMachine)
		return false
	}
	mach, ok := h.registry.Get(sess.SelectedMachine)
	if !ok || !mach.Connected() {
		w.Send(protocol.CodeMachineOffline)
		return false
	}

	temp, err := mach.Actuator.Temperature(ctx)
	if err != nil {
		h.logger.Error("actuator fault during TEMP", "session", sess.ID, "machine", mach.Alias, "error", err)
		w.Send(protocol.CodeDropFailed)
		return false
	}
	w.SendExtra(protocol.CodeOK, strconv.FormatFloat(temp, 'f', 1, 64))
	return false
}

// handleWhoami reports the authenticated username.
func (h *Handler) handleWhoami(_ context.Context, sess *Session, _ []string, w *protocol.Writer) bool {
	if !sess.Authenticated() {
		w.Send(protocol.CodeLoginRequired)
		return false
	}
	w.SendExtra(protocol.CodeOK, " "+sess.Username())
	return false
}

// handleSendCredits transfers credits to another account.
func (h *Handler) handleSendCredits(ctx context.Context, sess *Session, args []string, w *protocol.Writer) bool {
	if len(args) != 3 {
		w.SendExtra(protocol.CodeBadArgCount, usageSendCredits)
		return false
	}
	if !sess.Authenticated() {
		w.Send(protocol.CodeLoginRequired)
		return false
	}
	amount, err := strconv.Atoi(args[2])
	if err != nil {
		w.SendExtra(protocol.CodeBadArgCount, usageSendCredits)
		return false
	}
	if amount < 1 {
		w.Send(protocol.CodeBadSendAmount)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	newBalance, err := h.directory.Transfer(ctx, sess.Username(), args[1], amount)
	switch {
	case errors.Is(err, directory.ErrUserNotFound):
		w.Send(protocol.CodeNoSuchUser)
	case errors.Is(err, directory.ErrInsufficientFunds):
		w.Send(protocol.CodePoor)
	case err != nil:
		h.logger.Error("transfer fault", "session", sess.ID, "error", err)
		w.Send(protocol.CodeTransferFailed)
	default:
		sess.Balance = newBalance
		h.logger.Info("credits sent", "session", sess.ID,
			"from", sess.Username(), "to", args[1], "amount", amount)
		w.SendExtra(protocol.CodeOK, strconv.Itoa(newBalance))
	}
	return false
}

// handleQuit says goodbye and closes the connection.
func (h *Handler) handleQuit(_ context.Context, _ *Session, _ []string, w *protocol.Writer) bool {
	w.SendRaw("Good Bye")
	return true
}
