package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/agenthost/internal/adapter/inproc"
	"github.com/Strob0t/agenthost/internal/domain/call"
)

func newBrokerPair(t *testing.T) (*Client, *Executor) {
	t.Helper()
	hostSide, workerSide := inproc.Pair()
	client := NewClient(hostSide, time.Second, nil)
	exec := NewExecutor(workerSide, nil)
	t.Cleanup(func() {
		client.Dispose()
		exec.Close()
	})
	return client, exec
}

func TestUnknownToolFailsTheCall(t *testing.T) {
	client, _ := newBrokerPair(t)

	res, err := client.Execute(context.Background(), testEnvelope("no.such.tool"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("unknown tool must produce a failed result")
	}
	if !strings.Contains(res.Error, "unknown tool") || !strings.Contains(res.Error, "no.such.tool") {
		t.Errorf("error should name the tool, got %q", res.Error)
	}
}

func TestHandlerErrorBecomesFailedResult(t *testing.T) {
	client, exec := newBrokerPair(t)
	exec.Register("fs.read", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		return nil, errors.New("file does not exist")
	})

	res, err := client.Execute(context.Background(), testEnvelope("fs.read"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected failed result")
	}
	if !strings.Contains(res.Error, "file does not exist") {
		t.Errorf("result should carry the handler error, got %q", res.Error)
	}
}

func TestHandlerPanicBecomesFailedResult(t *testing.T) {
	client, exec := newBrokerPair(t)
	exec.Register("fs.read", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		panic("index out of range")
	})

	res, err := client.Execute(context.Background(), testEnvelope("fs.read"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected failed result")
	}
	if !strings.Contains(res.Error, "panicked") {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	client, exec := newBrokerPair(t)
	exec.Register("echo", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`"first"`), nil
	})
	exec.Register("echo", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`"second"`), nil
	})

	res, err := client.Execute(context.Background(), testEnvelope("echo"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Output) != `"second"` {
		t.Errorf("re-registration should replace, got %s", res.Output)
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	client, exec := newBrokerPair(t)
	exec.Register("echo", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`"x"`), nil
	})
	exec.Register("echo", nil)

	res, err := client.Execute(context.Background(), testEnvelope("echo"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("unregistered tool must fail")
	}
}

func TestResultCarriesDuration(t *testing.T) {
	client, exec := newBrokerPair(t)

	base := time.Now()
	ticks := 0
	exec.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 250 * time.Millisecond)
	}
	exec.Register("echo", func(context.Context, *call.Envelope) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	res, err := client.Execute(context.Background(), testEnvelope("echo"))
	if err != nil {
		t.Fatal(err)
	}
	if res.DurationMS != 250 {
		t.Errorf("expected duration 250ms, got %d", res.DurationMS)
	}
}
