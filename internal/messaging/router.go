package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ethangolledge/vapebot/internal/flow"
	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/store"
)

const (
	// DefaultWorkers is how many inbound messages are processed concurrently.
	DefaultWorkers = 4

	defaultMessage = "I didn't catch that. Send /setup to set your goal or /help for commands."
	errorMessage   = "⚠️ Something went wrong on our side. Please send /setup to start again."
)

// Handler processes one wizard event for a user.
type Handler interface {
	Handle(ctx context.Context, userID string, ev flow.Event) (flow.Reply, error)
}

// Router turns inbound transport messages into wizard events and sends the
// wizard's replies back through the same transport.
type Router struct {
	svc     Service
	handler Handler
	dedup   store.DedupRepo
	workers int

	mu        sync.Mutex
	keyboards map[string][]models.Choice // last keyboard shown per user
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDedup drops inbound messages whose id was already recorded.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(r *Router) { r.dedup = repo }
}

// WithWorkers sets how many messages are processed concurrently.
func WithWorkers(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRouter creates a Router reading from svc and dispatching to handler.
func NewRouter(svc Service, handler Handler, opts ...RouterOption) *Router {
	r := &Router{
		svc:       svc,
		handler:   handler,
		workers:   DefaultWorkers,
		keyboards: make(map[string][]models.Choice),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes inbound messages until ctx is cancelled or the service's
// responses channel closes. Messages from different users run in parallel.
func (r *Router) Run(ctx context.Context) error {
	slog.Info("Router starting", "workers", r.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case resp, ok := <-r.svc.Responses():
					if !ok {
						return nil
					}
					if err := r.Process(ctx, resp); err != nil {
						slog.Error("Router failed to process message", "error", err, "from", resp.From)
					}
				}
			}
		})
	}
	err := g.Wait()
	slog.Info("Router stopped")
	return err
}

// Process handles one inbound message end to end.
func (r *Router) Process(ctx context.Context, resp models.Response) error {
	userID, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if r.dedup != nil && resp.MessageID != "" {
		fresh, err := r.dedup.RecordInbound(ctx, resp.MessageID, userID)
		if err != nil {
			slog.Warn("Router dedup check failed, processing anyway", "error", err, "messageID", resp.MessageID)
		} else if !fresh {
			slog.Debug("Router dropping duplicate message", "messageID", resp.MessageID, "from", userID)
			return nil
		}
	}

	ev := r.parse(userID, resp.Body)
	reply, err := r.handler.Handle(ctx, userID, ev)
	if errors.Is(err, flow.ErrBusy) {
		return nil
	}
	if err != nil {
		r.send(ctx, userID, errorMessage)
		return fmt.Errorf("handle event: %w", err)
	}
	if !reply.Handled {
		return r.send(ctx, userID, defaultMessage)
	}

	r.rememberKeyboard(userID, reply.Prompts)
	if reply.Ack != "" {
		if err := r.send(ctx, userID, reply.Ack); err != nil {
			return err
		}
	}
	for _, p := range reply.Prompts {
		if err := r.send(ctx, userID, renderPrompt(p)); err != nil {
			return err
		}
	}
	return nil
}

// parse classifies a message body as a command, a keyboard selection or free text.
func (r *Router) parse(userID, body string) flow.Event {
	trimmed := strings.TrimSpace(body)
	if rest, ok := strings.CutPrefix(trimmed, "/"); ok {
		if fields := strings.Fields(rest); len(fields) > 0 {
			name, _, _ := strings.Cut(fields[0], "@")
			return flow.CommandEvent(strings.ToLower(name))
		}
	}

	r.mu.Lock()
	keyboard := r.keyboards[userID]
	r.mu.Unlock()
	if payload, ok := resolveChoice(keyboard, trimmed); ok {
		return flow.ButtonEvent(payload)
	}
	return flow.TextEvent(body)
}

// rememberKeyboard keeps the keyboard of the last prompt sent, if any.
func (r *Router) rememberKeyboard(userID string, prompts []models.Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keyboards, userID)
	for _, p := range prompts {
		if len(p.Keyboard) > 0 {
			r.keyboards[userID] = p.Keyboard
		}
	}
}

func (r *Router) send(ctx context.Context, userID, body string) error {
	if err := r.svc.SendMessage(ctx, userID, body); err != nil {
		slog.Error("Router failed to send message", "error", err, "to", userID)
		return fmt.Errorf("send to %s: %w", userID, err)
	}
	return nil
}
