package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/fields"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/store"
)

const (
	testClient  = "whatsapp:+5491100000001"
	testClient2 = "whatsapp:+5491100000002"
	testAgent   = "whatsapp:+5491199999999"
)

var errSendFailed = errors.New("send failed")

type sentMessage struct {
	to       string
	body     string
	buttons  []models.Button
	sections []models.ListSection
}

type fakeSender struct {
	mu          sync.Mutex
	sent        []sentMessage
	failButtons bool
	failAll     bool
}

func (f *fakeSender) record(m sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errSendFailed
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) SendText(_ context.Context, to, body string) error {
	return f.record(sentMessage{to: to, body: body})
}

func (f *fakeSender) SendButtons(_ context.Context, to, body string, buttons []models.Button) error {
	if f.failButtons {
		return errSendFailed
	}
	return f.record(sentMessage{to: to, body: body, buttons: buttons})
}

func (f *fakeSender) SendList(_ context.Context, to, body string, sections []models.ListSection) error {
	return f.record(sentMessage{to: to, body: body, sections: sections})
}

func (f *fakeSender) to(identity string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.to == identity {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) last(t *testing.T, identity string) sentMessage {
	t.Helper()
	msgs := f.to(identity)
	if len(msgs) == 0 {
		t.Fatalf("no messages sent to %s", identity)
	}
	return msgs[len(msgs)-1]
}

func (f *fakeSender) contains(identity, substr string) bool {
	for _, m := range f.to(identity) {
		if strings.Contains(m.body, substr) {
			return true
		}
	}
	return false
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// syncRunner runs tasks inline so tests are deterministic.
type syncRunner struct{}

func (syncRunner) Submit(_ string, fn func(ctx context.Context)) bool {
	fn(context.Background())
	return true
}

// heldRunner keeps tasks until the test releases them.
type heldRunner struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context)
}

func (r *heldRunner) Submit(_ string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, fn)
	return true
}

func (r *heldRunner) runAll() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, fn := range tasks {
		fn(context.Background())
	}
}

type fakeActions struct {
	mu       sync.Mutex
	payments []*models.Conversation
	services []*models.Conversation
	failures int
}

func (a *fakeActions) fail() error {
	if a.failures > 0 {
		a.failures--
		return errors.New("ledger unavailable")
	}
	return nil
}

func (a *fakeActions) AppendCompletedPayment(_ context.Context, conv *models.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail(); err != nil {
		return err
	}
	a.payments = append(a.payments, conv)
	return nil
}

func (a *fakeActions) SendServiceRequestEmail(_ context.Context, conv *models.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail(); err != nil {
		return err
	}
	a.services = append(a.services, conv)
	return nil
}

type fakeAddresses struct {
	mu    sync.Mutex
	saved map[string][]models.SavedAddress
	limit int
}

func newFakeAddresses(limit int) *fakeAddresses {
	return &fakeAddresses{saved: make(map[string][]models.SavedAddress), limit: limit}
}

func (f *fakeAddresses) ListSaved(_ context.Context, identity string) ([]models.SavedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SavedAddress(nil), f.saved[identity]...), nil
}

func (f *fakeAddresses) UpsertSaved(_ context.Context, identity, address, unit string) (store.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.saved[identity] {
		if strings.EqualFold(a.Address, address) {
			return store.OutcomeDuplicate, nil
		}
	}
	if len(f.saved[identity]) >= f.limit {
		return store.OutcomeLimitReached, nil
	}
	f.saved[identity] = append(f.saved[identity], models.SavedAddress{Address: address, Unit: unit})
	return store.OutcomeSaved, nil
}

func (f *fakeAddresses) DeleteSaved(_ context.Context, identity string, index int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.saved[identity]
	if index < 0 || index >= len(list) {
		return false, nil
	}
	f.saved[identity] = append(list[:index:index], list[index+1:]...)
	return true, nil
}

type fakeNLU struct {
	intent    models.Intent
	extracted map[models.FieldKey]string
	human     bool
	panics    bool
}

func (f *fakeNLU) ClassifyIntent(context.Context, string) (models.Intent, error) {
	if f.panics {
		panic("classifier exploded")
	}
	return f.intent, nil
}

func (f *fakeNLU) ExtractStructuredFields(context.Context, string) (map[models.FieldKey]string, error) {
	return f.extracted, nil
}

func (f *fakeNLU) DetectsHumanRequest(context.Context, string) (bool, error) {
	return f.human, nil
}

func (f *fakeNLU) DetectsContactInfoRequest(context.Context, string) (bool, error) {
	return false, nil
}

type fakeSurveys struct {
	mu     sync.Mutex
	scores map[string][]int
}

func (f *fakeSurveys) RecordSurvey(_ context.Context, identity string, scores []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scores == nil {
		f.scores = make(map[string][]int)
	}
	f.scores[identity] = scores
	return nil
}

type fakeAuditor struct {
	mu        sync.Mutex
	frictions []models.FrictionKind
	actions   []bool
	swept     int
}

func (a *fakeAuditor) MessageReceived(string) {}
func (a *fakeAuditor) Transition(models.State, models.State) {}
func (a *fakeAuditor) QueueDepth(int) {}

func (a *fakeAuditor) Friction(_ string, kind models.FrictionKind, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frictions = append(a.frictions, kind)
}

func (a *fakeAuditor) ActionResult(_ models.Intent, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, ok)
}

func (a *fakeAuditor) SweepClosed(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.swept += n
}

func (a *fakeAuditor) hasFriction(kind models.FrictionKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range a.frictions {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDedup) RecordInbound(messageID, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	return true, nil
}

func (d *fakeDedup) MarkProcessed(string) error { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var art = time.FixedZone("ART", -3*60*60)

type harness struct {
	engine  *Engine
	sender  *fakeSender
	clock   *fakeClock
	auditor *fakeAuditor
}

// newHarness builds an engine whose clock reads 2025-09-10 15:00 ART.
func newHarness(t *testing.T, deps Dependencies, opts ...Option) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 9, 10, 15, 0, 0, 0, art)}
	sender := &fakeSender{}
	auditor := &fakeAuditor{}
	if deps.Sender == nil {
		deps.Sender = sender
	}
	if deps.Tasks == nil {
		deps.Tasks = syncRunner{}
	}
	if deps.Auditor == nil {
		deps.Auditor = auditor
	}
	conversations := store.NewConversationStore(store.WithConversationClock(clock.Now))
	collector := fields.NewCollector(fields.WithLocation(art), fields.WithClock(clock.Now))
	base := []Option{WithAgentIdentity(testAgent), WithCollector(collector), WithClock(clock.Now)}
	e, err := NewEngine(conversations, handoff.NewQueue(), deps, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &harness{engine: e, sender: sender, clock: clock, auditor: auditor}
}

func (h *harness) send(t *testing.T, from, text string, media ...string) {
	t.Helper()
	in := models.InboundMessage{From: from, Text: text, MediaURLs: media, ReceivedAt: h.clock.Now()}
	if err := h.engine.HandleInbound(context.Background(), in); err != nil {
		t.Fatalf("HandleInbound(%q): %v", text, err)
	}
}

func (h *harness) sendAll(t *testing.T, from string, texts ...string) {
	t.Helper()
	for _, text := range texts {
		h.send(t, from, text)
	}
}

func (h *harness) conv(t *testing.T, identity string) *models.Conversation {
	t.Helper()
	conv, ok := h.engine.Conversations().Snapshot(identity)
	if !ok {
		t.Fatalf("no live conversation for %s", identity)
	}
	return conv
}

func (h *harness) state(t *testing.T, identity string) models.State {
	t.Helper()
	return h.conv(t, identity).State()
}

func (h *harness) live(identity string) bool {
	_, ok := h.engine.Conversations().Snapshot(identity)
	return ok
}
