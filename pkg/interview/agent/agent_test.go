package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

type scriptTransport struct {
	events chan Event

	mu       sync.Mutex
	startCfg StartConfig
	started  bool
	stopped  bool
	muted    []bool
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{events: make(chan Event, 16)}
}

func (s *scriptTransport) Start(ctx context.Context, cfg StartConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.startCfg = cfg
	return nil
}

func (s *scriptTransport) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.events)
	}
	return nil
}

func (s *scriptTransport) Events() <-chan Event { return s.events }

func (s *scriptTransport) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = append(s.muted, muted)
	return nil
}

func validParams() InitParams {
	return InitParams{
		Role:          identity.RoleCandidate,
		Credential:    "agent-key",
		ReferenceText: "Seven years of Go and distributed systems.",
	}
}

func newStartedManager(t *testing.T) (*Manager, *scriptTransport, *transcript.Log) {
	t.Helper()
	tr := newScriptTransport()
	log := transcript.NewLog()
	m, err := New(Dependencies{Transport: tr, Transcript: log}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(validParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, tr, log
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestManager_Initialize_Refusals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*InitParams)
		want   string
	}{
		{"completed round", func(p *InitParams) { p.RoundCompleted = true }, "completed"},
		{"hr role", func(p *InitParams) { p.Role = identity.RoleHR }, "HR"},
		{"missing credential", func(p *InitParams) { p.Credential = "  " }, "credential"},
		{"missing reference text", func(p *InitParams) { p.ReferenceText = "" }, "reference"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(Dependencies{Transport: newScriptTransport(), Transcript: transcript.NewLog()}, Config{})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			p := validParams()
			tc.mutate(&p)
			err = m.Initialize(p)
			if err == nil {
				t.Fatalf("expected refusal")
			}
			coreErr, ok := err.(*core.Error)
			if !ok || coreErr.Type != core.ErrAgent {
				t.Fatalf("err=%v, want agent error", err)
			}
			if !strings.Contains(coreErr.Message, tc.want) {
				t.Fatalf("message=%q, want substring %q", coreErr.Message, tc.want)
			}
			if m.Initialized() {
				t.Fatalf("manager initialized after refusal")
			}
		})
	}
}

func TestManager_Start_RequiresInitialize(t *testing.T) {
	m, err := New(Dependencies{Transport: newScriptTransport(), Transcript: transcript.NewLog()}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error starting uninitialized agent")
	}
}

func TestManager_Start_PromptCarriesReferenceText(t *testing.T) {
	_, tr, _ := newStartedManager(t)
	if !strings.Contains(tr.startCfg.SystemPrompt, "Seven years of Go") {
		t.Fatalf("system prompt missing reference text: %q", tr.startCfg.SystemPrompt)
	}
	if tr.startCfg.Model != "gpt-4o-mini" || tr.startCfg.Voice != "11labs" {
		t.Fatalf("model/voice=%q/%q, want defaults", tr.startCfg.Model, tr.startCfg.Voice)
	}
}

func TestManager_CallStartOpensListening(t *testing.T) {
	m, tr, _ := newStartedManager(t)
	if m.Listening() {
		t.Fatalf("listening before call start")
	}
	tr.events <- Event{Type: EventCallStart, CallID: "call-1"}
	waitUntil(t, func() bool { return m.State() == StateActive })
	if !m.Listening() {
		t.Fatalf("not listening after call start")
	}
	if m.CallID() != "call-1" {
		t.Fatalf("callID=%q, want call-1", m.CallID())
	}
}

func TestManager_CallStartWithoutID_AssignsOne(t *testing.T) {
	m, tr, _ := newStartedManager(t)
	tr.events <- Event{Type: EventCallStart}
	waitUntil(t, func() bool { return m.CallID() != "" })
}

func TestManager_MuteGate(t *testing.T) {
	m, tr, log := newStartedManager(t)

	// Before call start nothing is listening: both roles dropped.
	tr.events <- Event{Type: EventTranscript, Role: SpeakerUser, Text: "early", Final: true}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "early q", Final: true}
	tr.events <- Event{Type: EventCallStart, CallID: "c"}
	waitUntil(t, func() bool { return m.Listening() })
	if log.Len() != 0 {
		t.Fatalf("entries=%d, want 0 before listening", log.Len())
	}

	// Listening and unmuted: both roles recorded.
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "tell me about goroutines", Final: true}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerUser, Text: "they are lightweight", Final: true}
	waitUntil(t, func() bool { return log.Len() == 2 })

	// Muted while listening: user fragments dropped, assistant fragments kept.
	m.UpdateMuteState(true)
	tr.events <- Event{Type: EventTranscript, Role: SpeakerUser, Text: "muted words", Final: true}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "next question", Final: true}
	waitUntil(t, func() bool { return log.Len() == 3 })

	entries := log.Entries()
	for _, e := range entries {
		if e.Content == "muted words" {
			t.Fatalf("muted user fragment recorded")
		}
	}
	if entries[2].Role != transcript.RoleAssistant {
		t.Fatalf("role=%v, want assistant while muted", entries[2].Role)
	}

	// Listening closed: assistant fragments dropped too.
	m.SetListening(false)
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "paused q", Final: true}
	time.Sleep(20 * time.Millisecond)
	if log.Len() != 3 {
		t.Fatalf("entries=%d, want 3 after listening closed", log.Len())
	}
}

func TestManager_PartialsAreNotDurable(t *testing.T) {
	var partials atomic.Int64
	tr := newScriptTransport()
	log := transcript.NewLog()
	m, err := New(Dependencies{
		Transport:  tr,
		Transcript: log,
		Handlers:   Handlers{OnPartial: func(role SpeakerRole, text string) { partials.Add(1) }},
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(validParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr.events <- Event{Type: EventCallStart, CallID: "c"}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerUser, Text: "par", Final: false}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerUser, Text: "partial answer", Final: true}
	waitUntil(t, func() bool { return log.Len() == 1 })
	if partials.Load() != 1 {
		t.Fatalf("partials=%d, want 1", partials.Load())
	}
	if got := log.Entries()[0].Content; got != "partial answer" {
		t.Fatalf("content=%q, want final fragment only", got)
	}
}

func TestManager_CurrentQuestionTracksAssistant(t *testing.T) {
	m, tr, _ := newStartedManager(t)
	tr.events <- Event{Type: EventCallStart, CallID: "c"}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "q1", Final: true}
	tr.events <- Event{Type: EventTranscript, Role: SpeakerAssistant, Text: "q2", Final: true}
	waitUntil(t, func() bool { return m.CurrentQuestion() == "q2" })
}

func TestManager_UpdateMuteState_ForwardsToTransport(t *testing.T) {
	m, tr, _ := newStartedManager(t)
	m.UpdateMuteState(true)
	m.UpdateMuteState(false)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.muted) != 2 || !tr.muted[0] || tr.muted[1] {
		t.Fatalf("muted=%v, want [true false]", tr.muted)
	}
}

func TestManager_StopDrainsAndIsIdempotent(t *testing.T) {
	m, tr, _ := newStartedManager(t)
	tr.events <- Event{Type: EventCallStart, CallID: "c"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if m.State() != StateEnded {
		t.Fatalf("state=%v, want ended", m.State())
	}
	if m.Listening() {
		t.Fatalf("listening after stop")
	}
}

func TestManager_ConcurrentStartAndStop(t *testing.T) {
	tr := newScriptTransport()
	m, err := New(Dependencies{Transport: tr, Transcript: transcript.NewLog()}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(validParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = m.Start(ctx, nil)
	}()
	go func() {
		defer wg.Done()
		if err := m.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()
	wg.Wait()

	// Whichever side won, the transport drain must not hang later.
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("transport Stop: %v", err)
	}
	if m.State() != StateEnded {
		t.Fatalf("state=%v, want ended", m.State())
	}
}

func TestManager_ErrorEventSurfacesAgentError(t *testing.T) {
	var got atomic.Value
	tr := newScriptTransport()
	m, err := New(Dependencies{
		Transport:  tr,
		Transcript: transcript.NewLog(),
		Handlers:   Handlers{OnError: func(err error) { got.Store(err) }},
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(validParams()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr.events <- Event{Type: EventError, Message: "upstream refused"}
	waitUntil(t, func() bool { return m.State() == StateErrored })

	err, _ = got.Load().(error)
	coreErr, ok := err.(*core.Error)
	if !ok || coreErr.Type != core.ErrAgent {
		t.Fatalf("handler err=%v, want agent error", err)
	}
}
