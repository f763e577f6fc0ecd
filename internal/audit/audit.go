// Package audit records observations about conversations: Prometheus metrics
// for every transition, message and action, and friction events published to
// NATS for later analysis.
package audit

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultSubject is the NATS subject friction events are published on.
const DefaultSubject = "artuso.friction"

// Publisher publishes raw messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// FrictionEvent is the payload published for every friction observation.
type FrictionEvent struct {
	ID       string              `json:"id"`
	Identity string              `json:"identity"`
	Kind     models.FrictionKind `json:"kind"`
	Detail   string              `json:"detail,omitempty"`
	At       time.Time           `json:"at"`
}

// Recorder implements the engine's Auditor. All methods are non-blocking.
type Recorder struct {
	messages    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	friction    *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	actions     *prometheus.CounterVec
	sweepClosed prometheus.Counter

	publisher Publisher
	subject   string
	now       func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher publishes friction events through p on subject.
func WithPublisher(p Publisher, subject string) Option {
	return func(r *Recorder) {
		r.publisher = p
		if subject != "" {
			r.subject = subject
		}
	}
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder registers the metrics on reg and returns a Recorder.
func NewRecorder(reg prometheus.Registerer, opts ...Option) *Recorder {
	f := promauto.With(reg)
	r := &Recorder{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "artuso_messages_received_total",
			Help: "Inbound client and agent messages by channel",
		}, []string{"channel"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "artuso_state_transitions_total",
			Help: "Conversation state transitions",
		}, []string{"from", "to"}),
		friction: f.NewCounterVec(prometheus.CounterOpts{
			Name: "artuso_friction_events_total",
			Help: "Friction observations by kind",
		}, []string{"kind"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "artuso_handoff_queue_depth",
			Help: "Conversations waiting for or talking to the human agent",
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "artuso_action_results_total",
			Help: "Completion actions by intent and outcome",
		}, []string{"intent", "ok"}),
		sweepClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "artuso_sweep_closed_total",
			Help: "Conversations closed by the timeout sweep",
		}),
		subject: DefaultSubject,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) MessageReceived(channel string) {
	if channel == "" {
		channel = "unknown"
	}
	r.messages.WithLabelValues(channel).Inc()
}

func (r *Recorder) Transition(from, to models.State) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Friction counts the observation and publishes it when a publisher is set.
// Publish errors are logged and dropped.
func (r *Recorder) Friction(identity string, kind models.FrictionKind, detail string) {
	r.friction.WithLabelValues(string(kind)).Inc()
	slog.Debug("audit.Recorder.Friction", "identity", identity, "kind", kind, "detail", detail)
	if r.publisher == nil {
		return
	}
	data, err := json.Marshal(FrictionEvent{
		ID:       uuid.NewString(),
		Identity: identity,
		Kind:     kind,
		Detail:   detail,
		At:       r.now(),
	})
	if err != nil {
		slog.Warn("audit.Recorder.Friction: marshal failed", "error", err)
		return
	}
	if err := r.publisher.Publish(r.subject, data); err != nil {
		slog.Warn("audit.Recorder.Friction: publish failed", "subject", r.subject, "error", err)
	}
}

func (r *Recorder) QueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

func (r *Recorder) ActionResult(intent models.Intent, ok bool) {
	r.actions.WithLabelValues(string(intent), strconv.FormatBool(ok)).Inc()
}

func (r *Recorder) SweepClosed(n int) {
	if n > 0 {
		r.sweepClosed.Add(float64(n))
	}
}

// ConnectNATS opens a reconnecting NATS connection for friction events.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("artuso-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("audit: NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("audit: NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("audit: NATS error", "error", err)
		}),
	)
}
