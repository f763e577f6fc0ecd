package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

// Router sends through the service that owns the recipient's channel
// prefix and merges every service's inbound messages into one channel.
type Router struct {
	services map[string]Service
	order    []Service
	inbound  chan models.InboundMessage
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRouter creates a Router over services. A later service with the same
// channel replaces an earlier one.
func NewRouter(services ...Service) *Router {
	r := &Router{
		services: make(map[string]Service, len(services)),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	for _, s := range services {
		if prev, ok := r.services[s.Channel()]; ok {
			slog.Warn("Router: channel registered twice, keeping the last service", "channel", s.Channel())
			r.order = removeService(r.order, prev)
		}
		r.services[s.Channel()] = s
		r.order = append(r.order, s)
	}
	return r
}

func removeService(list []Service, s Service) []Service {
	out := list[:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

// Channels lists the registered channel prefixes.
func (r *Router) Channels() []string {
	out := make([]string, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, s.Channel())
	}
	return out
}

// Service returns the service for channel, if any.
func (r *Router) Service(channel string) (Service, bool) {
	s, ok := r.services[channel]
	return s, ok
}

func (r *Router) route(identity string) (Service, error) {
	channel := models.ChannelOf(identity)
	s, ok := r.services[channel]
	if !ok {
		return nil, fmt.Errorf("%w %q (recipient %s)", ErrUnknownChannel, channel, identity)
	}
	return s, nil
}

// SendText routes a text message by the recipient's channel.
func (r *Router) SendText(ctx context.Context, to, body string) error {
	s, err := r.route(to)
	if err != nil {
		return err
	}
	return s.SendText(ctx, to, body)
}

// SendButtons routes a button message by the recipient's channel.
func (r *Router) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	s, err := r.route(to)
	if err != nil {
		return err
	}
	return s.SendButtons(ctx, to, body, buttons)
}

// SendList routes a list message by the recipient's channel.
func (r *Router) SendList(ctx context.Context, to, body string, sections []models.ListSection) error {
	s, err := r.route(to)
	if err != nil {
		return err
	}
	return s.SendList(ctx, to, body, sections)
}

// OutboxSend delivers a durable outbox message. It is the send callback of
// store.OutboxSender.
func (r *Router) OutboxSend(ctx context.Context, msg store.OutboxMessage) error {
	switch msg.Kind {
	case store.OutboxKindText:
		var p store.OutboxTextPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decode outbox payload %s: %w", msg.ID, err)
		}
		return r.SendText(ctx, msg.Identity, p.Body)
	default:
		return fmt.Errorf("unsupported outbox message kind %q", msg.Kind)
	}
}

// Start starts every service and begins forwarding their inbound messages.
func (r *Router) Start(ctx context.Context) error {
	for _, s := range r.order {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start %s service: %w", s.Channel(), err)
		}
		r.wg.Add(1)
		go r.forward(s)
	}
	go func() {
		r.wg.Wait()
		r.once.Do(func() { close(r.inbound) })
	}()
	slog.Info("Router started", "channels", r.Channels())
	return nil
}

func (r *Router) forward(s Service) {
	defer r.wg.Done()
	for msg := range s.Inbound() {
		r.inbound <- msg
	}
	slog.Debug("Router: service inbound closed", "channel", s.Channel())
}

// Stop stops every service. Inbound is closed once all of them have drained.
func (r *Router) Stop() error {
	var firstErr error
	for _, s := range r.order {
		if err := s.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s service: %w", s.Channel(), err)
		}
	}
	return firstErr
}

// Inbound returns the merged inbound channel.
func (r *Router) Inbound() <-chan models.InboundMessage {
	return r.inbound
}
