package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/setup"
	"github.com/ethangolledge/vapebot/internal/store"
	"github.com/ethangolledge/vapebot/internal/util"
)

// ErrBusy is returned when an event arrives for a user whose previous event
// is still being processed. The later event is dropped.
var ErrBusy = errors.New("setup step already in progress for user")

// Wizard drives the setup conversation:
//
//	/setup -> await_tokes -> await_strength -> await_method -> await_goal -> complete
//
// with /cancel ending any active step. Invalid answers re-prompt the same
// step. Any other failure abandons the conversation and is returned.
type Wizard struct {
	setups   *setup.Manager
	states   StateManager
	archive  store.SetupArchive
	inflight *util.KeyedMutex
	now      func() time.Time
}

// WizardOption configures a Wizard.
type WizardOption func(*Wizard)

// WithArchive sets where completed setups are durably stored.
func WithArchive(a store.SetupArchive) WizardOption {
	return func(w *Wizard) { w.archive = a }
}

// WithWizardClock overrides the wizard's time source.
func WithWizardClock(now func() time.Time) WizardOption {
	return func(w *Wizard) { w.now = now }
}

// NewWizard creates a Wizard writing answers through setups and tracking
// conversation position in states.
func NewWizard(setups *setup.Manager, states StateManager, opts ...WizardOption) *Wizard {
	w := &Wizard{
		setups:   setups,
		states:   states,
		inflight: util.NewKeyedMutex(),
		now:      util.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle processes one event for userID. At most one event per user is
// processed at a time; a concurrent event returns ErrBusy.
func (w *Wizard) Handle(ctx context.Context, userID string, ev Event) (Reply, error) {
	unlock, ok := w.inflight.TryLock(userID)
	if !ok {
		slog.Warn("Wizard dropping event while a step is in flight", "userID", userID, "kind", ev.Kind)
		return Reply{}, ErrBusy
	}
	defer unlock()

	current, err := w.states.Current(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("load wizard state: %w", err)
	}

	var reply Reply
	switch {
	case ev.Kind == EventCommand:
		reply, err = w.command(ctx, userID, current, ev.Command)
	case current.Active():
		reply, err = w.step(ctx, userID, current, ev)
	default:
		return Reply{State: current}, nil
	}
	if err != nil {
		w.abandon(ctx, userID, current, err)
		return Reply{}, err
	}
	return reply, nil
}

// abandon ends the conversation after an unexpected error.
func (w *Wizard) abandon(ctx context.Context, userID string, current State, cause error) {
	slog.Error("Wizard abandoning conversation", "userID", userID, "state", current, "error", cause)
	if err := w.states.Reset(ctx, userID); err != nil {
		slog.Error("Wizard failed to reset state after error", "userID", userID, "error", err)
	}
}

func (w *Wizard) command(ctx context.Context, userID string, current State, name string) (Reply, error) {
	switch name {
	case CommandStart:
		return say(current, startText), nil
	case CommandHelp:
		return say(current, helpText), nil
	case CommandSetup:
		if err := w.archivePending(ctx, userID); err != nil {
			return Reply{}, err
		}
		if _, err := w.setups.Reset(ctx, userID); err != nil {
			return Reply{}, err
		}
		if err := w.states.Set(ctx, userID, StateAwaitTokes); err != nil {
			return Reply{}, err
		}
		slog.Info("Wizard started setup", "userID", userID, "previous", current)
		return say(StateAwaitTokes, setupIntro+tokesQuestion+setupCancelHint), nil
	case CommandCancel:
		if !current.Active() {
			return say(current, nothingToCancel), nil
		}
		if err := w.states.Set(ctx, userID, StateCancelled); err != nil {
			return Reply{}, err
		}
		slog.Info("Wizard cancelled setup", "userID", userID, "from", current)
		return say(StateCancelled, cancelledText), nil
	default:
		return Reply{State: current}, nil
	}
}

func (w *Wizard) step(ctx context.Context, userID string, current State, ev Event) (Reply, error) {
	switch current {
	case StateAwaitTokes:
		return w.answer(ctx, userID, current, ev, models.FieldTokes, StateAwaitStrength)
	case StateAwaitStrength:
		return w.answer(ctx, userID, current, ev, models.FieldStrength, StateAwaitMethod)
	case StateAwaitMethod:
		return w.chooseMethod(ctx, userID, ev)
	case StateAwaitGoal:
		return w.finish(ctx, userID, ev)
	default:
		return Reply{}, fmt.Errorf("no step for state %q", current)
	}
}

// answer stores a free-text reply and advances to next.
func (w *Wizard) answer(ctx context.Context, userID string, current State, ev Event, field models.Field, next State) (Reply, error) {
	text, ok := textOf(ev)
	if !ok {
		return reprompt(current, emptyAnswer, nil), nil
	}
	if _, err := w.setups.UpdateField(ctx, userID, field, text); err != nil {
		if msg, ok := validationMessage(err); ok {
			return reprompt(current, msg, nil), nil
		}
		return Reply{}, err
	}
	if err := w.states.Transition(ctx, userID, current, next); err != nil {
		return Reply{}, err
	}
	return Reply{Handled: true, State: next, Prompts: []models.Prompt{question(next, nil)}}, nil
}

func (w *Wizard) chooseMethod(ctx context.Context, userID string, ev Event) (Reply, error) {
	payload := strings.TrimSpace(ev.Payload)
	if ev.Kind != EventButton || payload == "" {
		return reprompt(StateAwaitMethod, chooseOption, nil), nil
	}
	rec, err := w.setups.UpdateField(ctx, userID, models.FieldMethod, payload)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			return reprompt(StateAwaitMethod, msg, nil), nil
		}
		return Reply{}, err
	}
	if err := w.states.Transition(ctx, userID, StateAwaitMethod, StateAwaitGoal); err != nil {
		return Reply{}, err
	}
	return Reply{
		Handled: true,
		Ack:     "You chose: " + choiceLabel(string(*rec.Method)),
		State:   StateAwaitGoal,
		Prompts: []models.Prompt{question(StateAwaitGoal, rec.Method)},
	}, nil
}

func (w *Wizard) finish(ctx context.Context, userID string, ev Event) (Reply, error) {
	rec, err := w.setups.Lookup(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	text, ok := textOf(ev)
	if !ok {
		return reprompt(StateAwaitGoal, emptyAnswer, rec.Method), nil
	}
	updated, err := w.setups.UpdateField(ctx, userID, models.FieldGoal, text)
	if err != nil {
		if msg, ok := validationMessage(err); ok {
			return reprompt(StateAwaitGoal, msg, rec.Method), nil
		}
		return Reply{}, err
	}
	rec = updated
	if err := w.states.Transition(ctx, userID, StateAwaitGoal, StateComplete); err != nil {
		return Reply{}, err
	}
	slog.Info("Wizard completed setup", "userID", userID)

	// The live record is already saved; an archive failure is retried by the Janitor.
	if err := w.archiveRecord(ctx, rec); err != nil {
		slog.Warn("Wizard archive failed, will retry", "userID", userID, "error", err)
	}
	return say(StateComplete, setup.FormatSummary(rec)+completeSuffix), nil
}

// archiveRecord stores rec in the archive and marks that version synced.
func (w *Wizard) archiveRecord(ctx context.Context, rec models.SetupRecord) error {
	if w.archive == nil {
		return nil
	}
	if err := w.archive.ArchiveSetup(ctx, rec); err != nil {
		return err
	}
	return w.setups.MarkSynced(ctx, rec.UserID, rec.UpdatedAt, w.now())
}

// archivePending archives a finished record whose archive write is still
// outstanding, so a restart cannot wipe it first.
func (w *Wizard) archivePending(ctx context.Context, userID string) error {
	if w.archive == nil {
		return nil
	}
	rec, err := w.setups.Lookup(ctx, userID)
	var se *setup.StateError
	if errors.As(err, &se) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.NeedsSync() {
		return nil
	}
	if err := w.archiveRecord(ctx, rec); err != nil {
		return fmt.Errorf("archive before restart: %w", err)
	}
	slog.Info("Wizard archived pending setup before restart", "userID", userID)
	return nil
}

func say(state State, text string) Reply {
	return Reply{Handled: true, State: state, Prompts: []models.Prompt{{Text: text}}}
}

func reprompt(state State, reason string, method *models.Method) Reply {
	return Reply{Handled: true, State: state, Prompts: []models.Prompt{retry(reason, state, method)}}
}

func textOf(ev Event) (string, bool) {
	if ev.Kind != EventText {
		return "", false
	}
	text := strings.TrimSpace(ev.Text)
	return text, text != ""
}

// validationMessage turns a *setup.ValidationError into user-facing text.
func validationMessage(err error) (string, bool) {
	var ve *setup.ValidationError
	if !errors.As(err, &ve) {
		return "", false
	}
	return fmt.Sprintf("Sorry, I couldn't use %q: %s.", ve.Raw, ve.Reason), true
}
