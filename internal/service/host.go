// Package service binds the run-control surface to the workflow runners:
// inbound start/cancel/control messages become runs, and each run's event
// stream is fanned out to the transport, the observers and the event store.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/agenthost/internal/domain"
	"github.com/Strob0t/agenthost/internal/domain/workflow"
	"github.com/Strob0t/agenthost/internal/logger"
	"github.com/Strob0t/agenthost/internal/port/broadcast"
	"github.com/Strob0t/agenthost/internal/port/eventstore"
	"github.com/Strob0t/agenthost/internal/port/transport"
	"github.com/Strob0t/agenthost/internal/runner"
)

// Host owns the live runs. It consumes run-control messages from the
// transport and exposes the same operations as direct methods for the
// HTTP surface.
type Host struct {
	runner *runner.Runner
	tr     transport.Transport
	store  eventstore.Store      // optional
	hub    broadcast.Broadcaster // optional
	tracer trace.Tracer          // optional
	log    *slog.Logger

	mu    sync.Mutex
	runs  map[string]*runner.Run
	unsub func()
}

// Options carries the optional collaborators of a Host.
type Options struct {
	Store  eventstore.Store
	Hub    broadcast.Broadcaster
	Tracer trace.Tracer
}

// NewHost creates a Host and attaches it to the transport.
func NewHost(r *runner.Runner, tr transport.Transport, opts Options, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		runner: r,
		tr:     tr,
		store:  opts.Store,
		hub:    opts.Hub,
		tracer: opts.Tracer,
		log:    log,
		runs:   make(map[string]*runner.Run),
	}
	h.unsub = tr.OnMessage(h.onMessage)
	return h
}

// Close detaches the host from the transport and cancels every live run.
func (h *Host) Close() {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	runs := make([]*runner.Run, 0, len(h.runs))
	for _, run := range h.runs {
		runs = append(runs, run)
	}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, run := range runs {
		run.Cancel()
	}
}

// StartRun validates and launches a run. The run id must be fresh.
func (h *Host) StartRun(ctx context.Context, runID string, req workflow.StartRequest) error {
	if err := uuid.Validate(runID); err != nil {
		return fmt.Errorf("run_id must be a UUID: %w", err)
	}

	h.mu.Lock()
	if _, exists := h.runs[runID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, domain.ErrConflict)
	}
	h.mu.Unlock()

	ctx = logger.WithRunID(ctx, runID)

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.workflow", req.Workflow),
		))
	}

	run, err := h.runner.Start(ctx, runID, req)
	if err != nil {
		if span != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return err
	}

	h.mu.Lock()
	h.runs[runID] = run
	h.mu.Unlock()

	h.log.Info("run started", "run_id", runID, "workflow", string(run.Kind()))
	go h.pump(run, span)
	return nil
}

// CancelRun requests advisory cancellation of a live run.
func (h *Host) CancelRun(runID, reason string) error {
	h.mu.Lock()
	run, ok := h.runs[runID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	h.log.Info("run cancel requested", "run_id", runID, "reason", reason)
	run.Cancel()
	return nil
}

// ResolveProposal answers a pending write proposal of a spec-driven run.
func (h *Host) ResolveProposal(runID string, approve bool, reason string) error {
	h.mu.Lock()
	run, ok := h.runs[runID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return run.Resolve(approve, reason)
}

// RunCount reports the number of live runs.
func (h *Host) RunCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

// pump forwards the run's events in order to the store, the observers and
// the transport, then reports the terminal outcome.
func (h *Host) pump(run *runner.Run, span trace.Span) {
	sdd := run.Kind() == workflow.KindSDD
	eventType := transport.TypeEvent
	errorType := transport.TypeRunError
	if sdd {
		eventType = transport.TypeSDDEvent
		errorType = transport.TypeSDDRunError
	}

	for ev := range run.Events() {
		if h.store != nil {
			if err := h.store.Append(context.Background(), ev); err != nil {
				h.log.Error("event append failed", "run_id", ev.RunID, "seq", ev.Seq, "error", err)
			}
		}
		if h.hub != nil {
			h.hub.Broadcast(ev)
		}
		msg, err := transport.NewMessage(eventType, ev)
		if err != nil {
			h.log.Error("encode event failed", "run_id", ev.RunID, "error", err)
			continue
		}
		if err := h.tr.Send(context.Background(), msg); err != nil {
			h.log.Error("forward event failed", "run_id", ev.RunID, "error", err)
		}
	}

	runErr := run.Err()

	h.mu.Lock()
	delete(h.runs, run.ID())
	h.mu.Unlock()

	if span != nil {
		if runErr != nil {
			span.SetStatus(codes.Error, runErr.Error())
		}
		span.End()
	}

	if runErr != nil {
		h.log.Warn("run failed", "run_id", run.ID(), "error", runErr)
		payload := transport.RunErrorPayload{RunID: run.ID(), Message: runErr.Error()}
		if msg, err := transport.NewMessage(errorType, payload); err == nil {
			if err := h.tr.Send(context.Background(), msg); err != nil {
				h.log.Error("send run error failed", "run_id", run.ID(), "error", err)
			}
		}
		return
	}
	h.log.Info("run completed", "run_id", run.ID())
}

// onMessage serves the run-control channel. Message payloads are
// schema-validated before use; a failed validation is answered with a
// run-error instead of being coerced.
func (h *Host) onMessage(msg transport.Message) {
	switch msg.Type {
	case transport.TypeStartRun, transport.TypeSDDStartRun:
	case transport.TypeCancelRun, transport.TypeSDDControlRun:
	default:
		return
	}

	if err := transport.Validate(msg); err != nil {
		h.log.Warn("rejecting invalid control message", "type", msg.Type, "error", err)
		h.sendRunError(msg.Type, "", err.Error())
		return
	}

	switch msg.Type {
	case transport.TypeStartRun, transport.TypeSDDStartRun:
		var p transport.StartRunPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := h.StartRun(context.Background(), p.RunID, p.Request); err != nil {
			h.sendRunError(msg.Type, p.RunID, err.Error())
		}

	case transport.TypeCancelRun:
		var p transport.CancelRunPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := h.CancelRun(p.RunID, p.Reason); err != nil {
			h.sendRunError(msg.Type, p.RunID, err.Error())
		}

	case transport.TypeSDDControlRun:
		var p transport.SDDControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := h.ResolveProposal(p.RunID, p.Approve, p.Reason); err != nil {
			h.sendRunError(msg.Type, p.RunID, err.Error())
		}
	}
}

func (h *Host) sendRunError(controlType, runID, message string) {
	errorType := transport.TypeRunError
	if controlType == transport.TypeSDDStartRun || controlType == transport.TypeSDDControlRun {
		errorType = transport.TypeSDDRunError
	}
	payload := transport.RunErrorPayload{RunID: runID, Message: message}
	msg, err := transport.NewMessage(errorType, payload)
	if err != nil {
		return
	}
	if err := h.tr.Send(context.Background(), msg); err != nil {
		h.log.Error("send run error failed", "run_id", runID, "error", err)
	}
}
