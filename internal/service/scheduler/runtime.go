package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/channel"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
	sessionsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/session"
)

// End reasons recorded on the session when the runtime terminates it.
const (
	ReasonGraphComplete        = "graph-complete"
	ReasonTimeout              = "timeout"
	ReasonChannelUnrecoverable = "channel-unrecoverable"
)

// Config tunes the per-session runtime.
type Config struct {
	// SilenceThreshold is the minimum silence after a speech-ended signal
	// before the turn is considered complete.
	SilenceThreshold time.Duration
	// SessionTimeout forcibly ends sessions that run too long.
	SessionTimeout time.Duration
}

// DefaultConfig returns the documented defaults: 700ms silence debounce and a
// 30 minute session cap.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 700 * time.Millisecond,
		SessionTimeout:   30 * time.Minute,
	}
}

// ProviderChannel is the slice of the audio adapter the runtime drives.
type ProviderChannel interface {
	Events() <-chan channel.Event
	Send(chunk channel.Chunk) error
	Close() error
}

// AgentGenerator produces agent-persona turn content.
type AgentGenerator interface {
	GenerateTurn(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string) (string, error)
}

// AgentStreamer is the optional incremental variant of AgentGenerator. When
// the generator implements it and streaming is enabled, reply chunks reach
// the trainee as they are produced instead of after the full generation.
type AgentStreamer interface {
	StreamingEnabled() bool
	StreamTurn(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string, emit func(chunk string) error) (string, error)
}

// Synthesizer renders agent text to audio outside the streaming path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type commandKind string

const (
	cmdAdvance    commandKind = "advance"
	cmdPause      commandKind = "pause"
	cmdResume     commandKind = "resume"
	cmdRestart    commandKind = "restart"
	cmdQuizAnswer commandKind = "quiz_answer"
	cmdEnd        commandKind = "end"
)

type command struct {
	kind   commandKind
	input  string
	reason string
	reply  chan error
}

// pendingTurn stages the trainee turn currently being captured off the audio
// stream.
type pendingTurn struct {
	startedAt  time.Time
	endedAt    time.Time
	transcript string
	latencyMS  int64
	speechEnd  time.Time
}

// Runtime drives one session. It is the single consumer of the provider
// event stream and the single issuer of state transitions, so every mutation
// is serialized regardless of how many provider events arrive concurrently.
type Runtime struct {
	sessionID string
	manager   *sessionsvc.Manager
	graph     *meshsvc.ValidGraph
	ch        ProviderChannel
	agents    AgentGenerator
	synth     Synthesizer
	cfg       Config
	commands  chan command
	log       zerolog.Logger
	now       func() time.Time
}

// NewRuntime wires a runtime for an already created session. agents and
// synth may be nil; agent nodes then degrade to their authored prompt text.
func NewRuntime(sessionID string, manager *sessionsvc.Manager, graph *meshsvc.ValidGraph, ch ProviderChannel, agents AgentGenerator, synth Synthesizer, cfg Config, log zerolog.Logger) *Runtime {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultConfig().SilenceThreshold
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConfig().SessionTimeout
	}
	return &Runtime{
		sessionID: sessionID,
		manager:   manager,
		graph:     graph,
		ch:        ch,
		agents:    agents,
		synth:     synth,
		cfg:       cfg,
		commands:  make(chan command, 16),
		log:       log.With().Str("component", "scheduler").Str("session", sessionID).Logger(),
		now:       time.Now,
	}
}

// Dispatch submits a UI command and waits for the transition outcome.
// Refusals (quiz pending, restart not allowed, ...) come back as errors while
// the session state stays valid.
func (r *Runtime) Dispatch(ctx context.Context, kind string, input, reason string) error {
	cmd := command{kind: commandKind(kind), input: input, reason: reason, reply: make(chan error, 1)}
	select {
	case r.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance commits a text-only trainee turn; used by the REST surface and by
// clients without an audio stream.
func (r *Runtime) Advance(ctx context.Context, input string) error {
	return r.Dispatch(ctx, string(cmdAdvance), input, "")
}

// Run executes the session loop until the session ends or ctx is cancelled.
// It owns the debounce timer, the session timeout and the quiz gating.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.ch.Close()

	timeout := time.NewTimer(r.cfg.SessionTimeout)
	defer timeout.Stop()

	// The debounce timer is created lazily on the first speech-ended signal.
	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
		pending   *pendingTurn
	)
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce = nil
			debounceC = nil
		}
	}
	defer stopDebounce()

	// An entry node bound to an agent speaks first, before any trainee audio.
	if state, err := r.manager.Get(ctx, r.sessionID); err == nil {
		if r.runAgentTurns(ctx, state, "") {
			return nil
		}
	}

	events := r.ch.Events()
	for {
		select {
		case <-ctx.Done():
			_, _ = r.end("shutdown")
			return ctx.Err()

		case <-timeout.C:
			r.log.Warn().Dur("limit", r.cfg.SessionTimeout).Msg("session timeout reached")
			_, _ = r.end(ReasonTimeout)
			return nil

		case ev, ok := <-events:
			if !ok {
				// The adapter closed the stream without a terminal event;
				// treat as unrecoverable unless the session already ended.
				state, _ := r.manager.Get(ctx, r.sessionID)
				if state.Status != sessionmodel.StatusEnded {
					_, _ = r.end(ReasonChannelUnrecoverable)
				}
				return nil
			}
			endedNow, err := r.handleEvent(ctx, ev, &pending, &debounce, &debounceC, stopDebounce)
			if err != nil {
				r.log.Debug().Err(err).Str("event", string(ev.Kind)).Msg("provider event rejected by state machine")
			}
			if endedNow {
				return nil
			}

		case <-debounceC:
			stopDebounce()
			if pending == nil {
				continue
			}
			turn := *pending
			pending = nil
			ended, err := r.commitTraineeTurn(ctx, turn)
			if err != nil {
				// Audio captured while a gate or pause holds has no caller to
				// refuse; the turn is dropped.
				r.log.Debug().Err(err).Msg("captured trainee turn rejected")
			}
			if ended {
				return nil
			}

		case cmd := <-r.commands:
			ended := r.handleCommand(ctx, cmd)
			if ended {
				return nil
			}
		}
	}
}

// handleEvent multiplexes one provider event into scheduler decisions. The
// bool result reports whether the session reached its terminal state.
func (r *Runtime) handleEvent(ctx context.Context, ev channel.Event, pending **pendingTurn, debounce **time.Timer, debounceC *<-chan time.Time, stopDebounce func()) (bool, error) {
	switch ev.Kind {
	case channel.SpeechStarted:
		// Speech resumed within the silence window: the turn is not over.
		stopDebounce()
		if *pending == nil {
			*pending = &pendingTurn{startedAt: r.now()}
		}
		_, err := r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.BeginTurn(state, sessionmodel.SpeakerTrainee, (*pending).startedAt)
		})
		return false, err

	case channel.PartialTranscript:
		if *pending != nil {
			(*pending).transcript = ev.Text
		}
		return false, nil

	case channel.FinalTranscript:
		if *pending == nil {
			*pending = &pendingTurn{startedAt: r.now()}
		}
		(*pending).transcript = ev.Text
		if !(*pending).speechEnd.IsZero() {
			(*pending).latencyMS = r.now().Sub((*pending).speechEnd).Milliseconds()
		}
		return false, nil

	case channel.SpeechEnded:
		if *pending == nil {
			return false, nil
		}
		(*pending).endedAt = r.now()
		(*pending).speechEnd = (*pending).endedAt
		if *debounce == nil {
			*debounce = time.NewTimer(r.cfg.SilenceThreshold)
			*debounceC = (*debounce).C
		} else {
			if !(*debounce).Stop() {
				select {
				case <-(*debounce).C:
				default:
				}
			}
			(*debounce).Reset(r.cfg.SilenceThreshold)
		}
		return false, nil

	case channel.ProviderError:
		switch {
		case errors.Is(ev.Err, channel.ErrUnrecoverable):
			_, _ = r.end(ReasonChannelUnrecoverable)
			return true, nil
		case errors.Is(ev.Err, channel.ErrRateLimited):
			r.log.Warn().Msg("provider rate limited, pausing session")
			_, err := r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
				return sessionsvc.Pause(state)
			})
			return false, err
		default:
			r.log.Warn().Str("code", ev.Code).Str("message", ev.Message).Msg("provider error event")
			return false, nil
		}
	}
	return false, nil
}

// commitTraineeTurn advances the session with the captured turn and, when the
// resolved node is agent-bound, produces the agent's reply. Returns whether
// the session ended, plus the state-machine refusal when the turn was
// rejected (quiz active, paused, ...) so command callers receive it.
func (r *Runtime) commitTraineeTurn(ctx context.Context, turn pendingTurn) (bool, error) {
	if turn.endedAt.IsZero() {
		turn.endedAt = r.now()
	}
	input := sessionsvc.TurnInput{
		Speaker:    sessionmodel.SpeakerTrainee,
		Transcript: turn.transcript,
		StartedAt:  turn.startedAt,
		EndedAt:    turn.endedAt,
		LatencyMS:  turn.latencyMS,
	}

	state, err := r.manager.Apply(r.sessionID, func(state sessionmodel.State, graph *meshsvc.ValidGraph) (sessionmodel.State, error) {
		return sessionsvc.AdvanceTurn(state, graph, input)
	})
	if errors.Is(err, meshsvc.ErrGraphExhausted) {
		_, _ = r.end(ReasonGraphComplete)
		return true, nil
	}
	if err != nil {
		// The turn is dropped and the state machine stays valid; the caller
		// decides whether anyone is waiting on the refusal.
		return false, err
	}
	return r.runAgentTurns(ctx, state, turn.transcript), nil
}

// runAgentTurns lets agent-bound nodes speak until the flow lands on a
// trainee node, a quiz gate or the end of the graph.
func (r *Runtime) runAgentTurns(ctx context.Context, state sessionmodel.State, traineeInput string) bool {
	for state.Status == sessionmodel.StatusActive {
		node, ok := r.graph.Graph().NodeByID(state.CurrentNodeID)
		if !ok || node.Kind != meshmodel.KindAgent {
			return false
		}

		started := r.now()
		text, delivered := r.agentReply(ctx, node, state.History, traineeInput)
		if !delivered {
			r.deliverAgentAudio(ctx, node, text)
		}
		ended := r.now()

		input := sessionsvc.TurnInput{
			Speaker:    sessionmodel.AgentSpeaker(node.ID),
			Transcript: text,
			StartedAt:  started,
			EndedAt:    ended,
		}
		next, err := r.manager.Apply(r.sessionID, func(state sessionmodel.State, graph *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.AdvanceTurn(state, graph, input)
		})
		if errors.Is(err, meshsvc.ErrGraphExhausted) {
			_, _ = r.end(ReasonGraphComplete)
			return true
		}
		if err != nil {
			r.log.Debug().Err(err).Str("node", node.ID).Msg("agent turn rejected")
			return false
		}
		state = next
	}
	return false
}

// agentReply produces the persona turn. A streaming-capable generator
// forwards chunks to the trainee as they arrive and the assembled text
// becomes the turn transcript; otherwise the full reply is generated first
// and delivered afterwards.
func (r *Runtime) agentReply(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string) (string, bool) {
	if streamer, ok := r.agents.(AgentStreamer); ok && streamer.StreamingEnabled() {
		voice := ""
		if node.Persona != nil {
			voice = node.Persona.VoiceID
		}
		text, err := streamer.StreamTurn(ctx, node, history, traineeInput, func(chunk string) error {
			return r.ch.Send(channel.Chunk{Kind: channel.ChunkText, Text: chunk, Voice: voice})
		})
		if err == nil && text != "" {
			return text, true
		}
		if err != nil {
			r.log.Warn().Err(err).Str("node", node.ID).Msg("agent streaming failed, falling back to full generation")
		}
	}
	return r.agentText(ctx, node, history, traineeInput), false
}

// agentText generates the persona reply, falling back to the authored node
// prompt when no generator is configured or generation fails.
func (r *Runtime) agentText(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string) string {
	if r.agents != nil {
		text, err := r.agents.GenerateTurn(ctx, node, history, traineeInput)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			r.log.Warn().Err(err).Str("node", node.ID).Msg("agent generation failed, using authored prompt")
		}
	}
	if node.Prompt != "" {
		return node.Prompt
	}
	if node.Persona != nil && node.Persona.OpeningLine != "" {
		return node.Persona.OpeningLine
	}
	return ""
}

// deliverAgentAudio streams the agent's reply to the trainee. Synthesis
// failure degrades the turn to text-only rather than failing the session.
func (r *Runtime) deliverAgentAudio(ctx context.Context, node meshmodel.Node, text string) {
	if text == "" {
		return
	}
	voice := ""
	if node.Persona != nil {
		voice = node.Persona.VoiceID
	}

	if r.synth != nil {
		audio, err := r.synth.Synthesize(ctx, text, voice)
		if err == nil {
			if sendErr := r.ch.Send(channel.Chunk{Kind: channel.ChunkAudio, Data: audio, Voice: voice}); sendErr == nil {
				return
			}
		} else {
			r.log.Warn().Err(err).Str("node", node.ID).Msg("synthesis failed, degrading turn to text")
		}
	}
	if err := r.ch.Send(channel.Chunk{Kind: channel.ChunkText, Text: text, Voice: voice}); err != nil {
		r.log.Warn().Err(err).Str("node", node.ID).Msg("failed to deliver agent text")
	}
}

// handleCommand serializes one UI command through the state machine. Returns
// true when the session reached its terminal state.
func (r *Runtime) handleCommand(ctx context.Context, cmd command) bool {
	var (
		err   error
		ended bool
	)

	switch cmd.kind {
	case cmdAdvance:
		now := r.now()
		ended, err = r.commitTraineeTurn(ctx, pendingTurn{startedAt: now, endedAt: now, transcript: cmd.input})

	case cmdPause:
		_, err = r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.Pause(state)
		})

	case cmdResume:
		_, err = r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.Resume(state)
		})

	case cmdRestart:
		_, err = r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.RestartTurn(state)
		})

	case cmdQuizAnswer:
		var state sessionmodel.State
		state, err = r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
			return sessionsvc.AnswerQuiz(state, cmd.input)
		})
		if err == nil {
			ended = r.runAgentTurns(ctx, state, cmd.input)
		}

	case cmdEnd:
		reason := cmd.reason
		if reason == "" {
			reason = "user-requested"
		}
		_, err = r.end(reason)
		ended = true

	default:
		err = errors.New("unknown command: " + string(cmd.kind))
	}

	cmd.reply <- err
	return ended
}

// end transitions the session to its terminal state. Idempotent: duplicate
// end signals are absorbed by the state machine.
func (r *Runtime) end(reason string) (sessionmodel.State, error) {
	at := r.now()
	state, err := r.manager.Apply(r.sessionID, func(state sessionmodel.State, _ *meshsvc.ValidGraph) (sessionmodel.State, error) {
		return sessionsvc.EndSession(state, reason, at)
	})
	if err == nil && state.Status == sessionmodel.StatusEnded {
		r.log.Info().Str("reason", state.EndReason).Int("turns", len(state.History)).Msg("session ended")
	}
	return state, err
}
