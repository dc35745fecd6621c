package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/twilio/twilio-go/client"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/setup"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

const shutdownTimeout = 5 * time.Second

// InboundSink accepts messages received over HTTP.
type InboundSink interface {
	Deliver(resp models.Response) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	Inbound         InboundSink // nil disables the Twilio webhook
	TwilioAuthToken string      // empty skips signature validation
	WebhookURL      string      // public URL Twilio signs; defaults to the request URL
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook enables POST /webhook/twilio, delivering messages to sink.
func WithTwilioWebhook(sink InboundSink) Option {
	return func(o *Opts) { o.Inbound = sink }
}

// WithTwilioAuthToken enables X-Twilio-Signature validation.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) { o.TwilioAuthToken = token }
}

// WithWebhookURL sets the externally visible webhook URL used for signature checks.
func WithWebhookURL(url string) Option {
	return func(o *Opts) { o.WebhookURL = url }
}

// Server is the vapebot HTTP API.
type Server struct {
	setups     *setup.Manager
	inbound    InboundSink
	validator  *client.RequestValidator
	webhookURL string
	addr       string
	mux        *http.ServeMux
}

// NewServer builds a Server reading setup records through setups.
func NewServer(setups *setup.Manager, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		setups:     setups,
		inbound:    cfg.Inbound,
		webhookURL: cfg.WebhookURL,
		addr:       cfg.Addr,
		mux:        http.NewServeMux(),
	}
	if cfg.TwilioAuthToken != "" {
		v := client.NewRequestValidator(cfg.TwilioAuthToken)
		s.validator = &v
	}

	s.mux.HandleFunc("GET /healthz", s.healthzHandler)
	s.mux.HandleFunc("GET /setups/{userID}", s.setupHandler)
	if s.inbound != nil {
		s.mux.HandleFunc("POST /webhook/twilio", s.twilioWebhookHandler)
	}
	slog.Debug("API server configured", "addr", s.addr, "webhook", s.inbound != nil, "signature_check", s.validator != nil)
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("API server stopped")
	return nil
}
