package runner

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// Chat chunking bounds: chunks are at most chatChunkSize characters and,
// where possible, end on a space at least chatChunkMinSplit characters in.
const (
	chatChunkSize     = 160
	chatChunkMinSplit = 20
)

// runChat drives the conversational workflow:
// running, thinking, drafting, message deltas, message complete, completed.
func (run *Run) runChat(ctx context.Context) error {
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusRunning})
	run.emit(event.TypeStatusUpdate, event.StatusPayload{Status: "thinking"})

	if run.checkCancelled() {
		return run.fail(ErrCancelled)
	}

	res, err := run.invoke(ctx, "model.complete", map[string]string{"prompt": run.req.Goal}, "draft chat reply")
	if err != nil {
		return run.fail(err)
	}

	var reply struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(res.Output, &reply); err != nil {
		return run.fail(err)
	}

	run.emit(event.TypeStatusUpdate, event.StatusPayload{Status: "drafting"})

	chunks := chunkMessage(reply.Text, chatChunkSize, chatChunkMinSplit)
	for i, chunk := range chunks {
		run.emit(event.TypeMessageDelta, event.MessagePayload{
			Text:  chunk,
			Chunk: i + 1,
			Total: len(chunks),
		})
	}
	run.emit(event.TypeMessageComplete, event.MessagePayload{Text: reply.Text})
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusCompleted})
	return nil
}

// chunkMessage splits text into chunks of at most size characters. Each
// chunk ends on a space when one exists at or past minSplit characters from
// the chunk start; otherwise it breaks hard at size.
func chunkMessage(text string, size, minSplit int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for len(runes) > size {
		cut := size
		if idx := lastSpace(runes[:size], minSplit); idx >= 0 {
			cut = idx + 1
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// lastSpace returns the index of the last space at or after minSplit, or -1.
func lastSpace(runes []rune, minSplit int) int {
	for i := len(runes) - 1; i >= minSplit; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
