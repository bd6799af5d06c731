// Command agentworker is the isolated tool-execution process. It is spawned
// by the host supervisor with an allowlisted environment, serves tool calls
// over the shared message channel, and exits when its stdin closes.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Strob0t/agenthost/internal/adapter/llm"
	"github.com/Strob0t/agenthost/internal/adapter/natsmq"
	"github.com/Strob0t/agenthost/internal/adapter/stdio"
	"github.com/Strob0t/agenthost/internal/broker"
	"github.com/Strob0t/agenthost/internal/port/transport"
	"github.com/Strob0t/agenthost/internal/resilience"
	"github.com/Strob0t/agenthost/internal/rpc"
)

func main() {
	// Stdout carries RPC frames; all logging goes to stderr.
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	root := os.Getenv("AGENTHOST_WORKSPACE")
	if root == "" {
		root = "."
	}

	stream := &hostStream{in: os.Stdin, out: os.Stdout, done: make(chan struct{})}
	conn := rpc.NewConn(stream, 0, log)
	defer func() { _ = conn.Close() }()

	var tr transport.Transport
	if url := os.Getenv("NATS_URL"); url != "" {
		nc, err := natsmq.Dial(url)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Close()
		// Subjects are swapped relative to the host side.
		tr, err = natsmq.New(nc, natsmq.SubjectToHost, natsmq.SubjectToWorker, log)
		if err != nil {
			return fmt.Errorf("nats transport: %w", err)
		}
		log.Info("worker transport on nats", "url", url)
	} else {
		tr = stdio.New(conn, log)
		log.Info("worker transport on stdio")
	}
	defer func() { _ = tr.Close() }()

	exec := broker.NewExecutor(tr, log)
	defer exec.Close()

	registerFileTools(exec, root)
	registerModelTools(exec, modelClient(log))
	log.Info("worker ready", "workspace", root)

	// The host owns the lifecycle: closed stdin means stop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stream.done:
		log.Info("host channel closed, exiting")
	case s := <-sig:
		log.Info("signal received, exiting", "signal", s.String())
	}
	return nil
}

// modelClient builds the completions client from the environment forwarded
// by the host. Returns nil when no model backend is configured.
func modelClient(log *slog.Logger) *llm.Client {
	url := os.Getenv("AGENTHOST_MODEL_URL")
	if url == "" {
		log.Info("model backend not configured, model tools disabled")
		return nil
	}
	c := llm.NewClient(url, os.Getenv("AGENTHOST_MODEL_API_KEY"), os.Getenv("AGENTHOST_MODEL_NAME"))
	c.SetBreaker(resilience.NewBreaker(5, 30*time.Second))
	return c
}

// hostStream joins stdin and stdout into the duplex stream the RPC layer
// needs. Close signals done instead of closing the real descriptors, so the
// worker can observe the host ending the channel.
type hostStream struct {
	in   io.Reader
	out  io.Writer
	once sync.Once
	done chan struct{}
}

func (s *hostStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *hostStream) Write(p []byte) (int, error) { return s.out.Write(p) }

func (s *hostStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
