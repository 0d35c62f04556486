package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFirstByteTimeout means the model produced nothing before the deadline.
var ErrFirstByteTimeout = errors.New("no response from model before deadline")

// UpstreamError wraps any failure of the completion engine: transport errors,
// timeouts, unparseable payloads, unknown providers.
type UpstreamError struct {
	Provider string
	Model    string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

const OllamaPrefix = "ollama/"

type GatewayConfig struct {
	DefaultProvider   string
	DefaultModel      string
	FirstByteTimeout  time.Duration
	CompletionTimeout time.Duration
}

// Gateway resolves a model id to a provider and runs one-shot or streamed
// completions against it with bounded waits.
type Gateway struct {
	registry *Registry
	cfg      GatewayConfig
}

func NewGateway(registry *Registry, cfg GatewayConfig) *Gateway {
	if cfg.FirstByteTimeout <= 0 {
		cfg.FirstByteTimeout = 30 * time.Second
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 120 * time.Second
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openrouter"
	}
	return &Gateway{registry: registry, cfg: cfg}
}

// Route maps a client model id to (provider, provider-local model).
func (g *Gateway) Route(modelID string) (provider, model string) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = g.cfg.DefaultModel
	}
	if strings.HasPrefix(modelID, OllamaPrefix) {
		return "ollama", strings.TrimPrefix(modelID, OllamaPrefix)
	}
	return g.cfg.DefaultProvider, modelID
}

// Validate checks that the default model routes to a registered provider.
func (g *Gateway) Validate() error {
	name, _ := g.Route("")
	if !g.registry.Has(name) {
		return fmt.Errorf("ai provider %q is not registered", name)
	}
	return nil
}

// Providers lists the registered provider names.
func (g *Gateway) Providers() []string { return g.registry.Names() }

// DefaultModel is the model used when a request names none.
func (g *Gateway) DefaultModel() string { return g.cfg.DefaultModel }

// ResolveModel returns the model id that will actually be used.
func (g *Gateway) ResolveModel(modelID string) string {
	if strings.TrimSpace(modelID) == "" {
		return g.cfg.DefaultModel
	}
	return strings.TrimSpace(modelID)
}

func (g *Gateway) provider(ctx context.Context, modelID string) (Provider, string, string, error) {
	name, model := g.Route(modelID)
	p, err := g.registry.Get(ctx, name, model)
	if err != nil {
		return nil, name, model, &UpstreamError{Provider: name, Model: model, Err: err}
	}
	return p, name, model, nil
}

// Complete returns the whole reply. It never retries.
func (g *Gateway) Complete(ctx context.Context, messages []Message, modelID string) (string, error) {
	p, name, model, err := g.provider(ctx, modelID)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, g.cfg.CompletionTimeout)
	defer cancel()

	reply, err := p.Chat(cctx, messages)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrFirstByteTimeout
		}
		return "", &UpstreamError{Provider: name, Model: model, Err: err}
	}
	return reply, nil
}

// Stream is a finite, ordered, non-restartable sequence of completion events.
// The channel ends with exactly one Done or Err event, unless the stream was
// canceled, in which case it is closed without a terminal event.
type Stream struct {
	events <-chan StreamEvent
	cancel context.CancelFunc
}

func (s *Stream) Events() <-chan StreamEvent { return s.events }

// Close stops pulling from upstream and releases the underlying connection.
// Safe to call more than once.
func (s *Stream) Close() { s.cancel() }

// StreamComplete starts a streamed completion. Failures, including a missing
// first fragment within FirstByteTimeout, arrive as an Err event.
func (g *Gateway) StreamComplete(ctx context.Context, messages []Message, modelID string) *Stream {
	sctx, cancel := context.WithCancel(ctx)
	out := make(chan StreamEvent, 16)
	s := &Stream{events: out, cancel: cancel}

	p, name, model, err := g.provider(sctx, modelID)
	if err != nil {
		out <- StreamEvent{Err: err}
		close(out)
		return s
	}

	sp, ok := p.(StreamProvider)
	if !ok {
		sp = oneShotStream{p}
	}

	go func() {
		defer close(out)
		defer cancel()

		upstream := sp.StreamChat(sctx, messages)
		firstByte := time.NewTimer(g.cfg.FirstByteTimeout)
		defer firstByte.Stop()
		deadline := firstByte.C

		for {
			var (
				ev StreamEvent
				ok bool
			)
			select {
			case ev, ok = <-upstream:
			case <-deadline:
				cancel()
				out <- StreamEvent{Err: &UpstreamError{Provider: name, Model: model, Err: ErrFirstByteTimeout}}
				return
			case <-sctx.Done():
				return
			}
			if !ok {
				if sctx.Err() == nil {
					// provider closed without a terminal marker
					emit(sctx, out, StreamEvent{Done: true})
				}
				return
			}
			deadline = nil

			if ev.Err != nil {
				if sctx.Err() != nil {
					return
				}
				emit(sctx, out, StreamEvent{Err: &UpstreamError{Provider: name, Model: model, Err: ev.Err}})
				return
			}
			if !emit(sctx, out, ev) || ev.Done {
				return
			}
		}
	}()

	return s
}

// oneShotStream adapts a Provider without streaming support.
type oneShotStream struct{ p Provider }

func (o oneShotStream) StreamChat(ctx context.Context, messages []Message) <-chan StreamEvent {
	out := make(chan StreamEvent, 2)
	go func() {
		defer close(out)
		reply, err := o.p.Chat(ctx, messages)
		if err != nil {
			emit(ctx, out, StreamEvent{Err: err})
			return
		}
		if reply != "" && !emit(ctx, out, StreamEvent{Text: reply}) {
			return
		}
		emit(ctx, out, StreamEvent{Done: true})
	}()
	return out
}
