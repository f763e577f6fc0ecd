package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/handoff"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

func TestSweep_ExpiresSilentHandoff(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.send(t, testClient, "operador")
	h.send(t, testClient2, "operador")

	h.clock.Advance(23 * time.Hour)
	h.send(t, testClient2, "sigo esperando")
	h.clock.Advance(90 * time.Minute)

	n, err := h.engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	if h.live(testClient) {
		t.Error("silent handoff still live")
	}
	if !h.live(testClient2) {
		t.Fatal("recent handoff was closed")
	}
	if last := h.sender.last(t, testClient); last.body != msgHandoffExpired {
		t.Errorf("expired client got %q", last.body)
	}
	if !h.sender.contains(testAgent, "se cerró por inactividad") {
		t.Error("agent not told about the expiry")
	}
	if active, _ := h.engine.Queue().Active(); active != testClient2 {
		t.Errorf("active = %q, want the remaining client", active)
	}
	if !h.conv(t, testClient2).Handoff.Notified {
		t.Error("promoted client not announced")
	}
	if h.auditor.swept != 1 {
		t.Errorf("audited %d sweeps", h.auditor.swept)
	}

	if n, _ := h.engine.Sweep(context.Background()); n != 0 {
		t.Errorf("second sweep closed %d, want 0", n)
	}
}

func TestSweep_ExpiresUnansweredSurvey(t *testing.T) {
	h := newHarness(t, Dependencies{Surveys: &fakeSurveys{}}, WithSurveys(true))
	h.send(t, testClient, "operador")
	h.send(t, testAgent, "/done")

	h.clock.Advance(20 * time.Minute)
	if n, _ := h.engine.Sweep(context.Background()); n != 0 {
		t.Fatalf("survey closed early")
	}
	h.clock.Advance(11 * time.Minute)
	if n, _ := h.engine.Sweep(context.Background()); n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	if h.live(testClient) {
		t.Error("survey conversation still live")
	}
}

func TestSweep_IdleConversations(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.sendAll(t, testClient, "hola", "1")
	h.send(t, testClient2, "hola")
	before := len(h.sender.to(testClient2))

	h.clock.Advance(2*time.Hour + time.Minute)
	n, err := h.engine.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v; want 2", n, err)
	}
	if last := h.sender.last(t, testClient); last.body != msgIdleClosed {
		t.Errorf("idle client with a request got %q", last.body)
	}
	if after := len(h.sender.to(testClient2)); after != before {
		t.Error("client that never chose an option was notified")
	}
}

func TestSweep_IdleDisabled(t *testing.T) {
	h := newHarness(t, Dependencies{}, WithConversationTTL(0))
	h.sendAll(t, testClient, "hola", "1")
	h.clock.Advance(48 * time.Hour)

	if n, _ := h.engine.Sweep(context.Background()); n != 0 {
		t.Errorf("closed = %d with idle expiry disabled", n)
	}
	if got := h.state(t, testClient); got != models.StateCollectingSequential {
		t.Errorf("state = %s", got)
	}
}

func TestSweep_PrunesTombstones(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.send(t, testClient, "operador")
	h.send(t, testAgent, "/done")
	if !h.engine.Conversations().RecentlyFinalized(testClient, time.Hour) {
		t.Fatal("no tombstone after close")
	}

	h.clock.Advance(DefaultTombstoneWindow + time.Minute)
	if _, err := h.engine.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.engine.Conversations().RecentlyFinalized(testClient, 24*time.Hour) {
		t.Error("tombstone survived the sweep")
	}
}

func TestSweep_RacesAgentCloseWithoutDoubleClose(t *testing.T) {
	h := newHarness(t, Dependencies{})
	const clients = 20
	ids := make([]string, clients)
	for i := range ids {
		ids[i] = fmt.Sprintf("whatsapp:+54911000000%02d", i)
		h.send(t, ids[i], "operador")
	}
	if n := h.engine.Queue().Len(); n != clients {
		t.Fatalf("queue length = %d, want %d", n, clients)
	}
	h.clock.Advance(DefaultHandoffTTL + time.Hour)

	checkQueue := func() {
		h.engine.Queue().Do(func(tx *handoff.Tx) {
			waiting := tx.Snapshot()
			active, ok := tx.Active()
			if ok != (len(waiting) > 0) || (ok && active != waiting[0]) {
				t.Errorf("queue invariant broken: active=%q waiting=%v", active, waiting)
			}
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Sweep(context.Background()); err != nil {
				t.Errorf("Sweep: %v", err)
			}
			checkQueue()
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h.engine.CloseActive(context.Background())
				checkQueue()
			}
		}()
	}
	wg.Wait()

	if n := h.engine.Queue().Len(); n != 0 {
		t.Errorf("queue length = %d after closing everything", n)
	}
	if n := h.engine.Conversations().Len(); n != 0 {
		t.Errorf("%d conversations still live", n)
	}
	for _, id := range ids {
		closes := 0
		for _, m := range h.sender.to(id) {
			if m.body == msgHandoffExpired || strings.HasPrefix(m.body, msgHandoffClosed) {
				closes++
			}
		}
		if closes != 1 {
			t.Errorf("%s was closed %d times, want exactly once", id, closes)
		}
	}
}
