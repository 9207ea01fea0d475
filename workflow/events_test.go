package workflow

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEmitterFraming(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewStreamEmitter(&buf)

	emitter.Emit(&Event{Type: EventStep, WorkflowID: "wf", StepID: "draft", Status: StatusRunning})
	emitter.Emit(&Event{Type: EventContent, WorkflowID: "wf", StepID: "draft", Content: "hello"})
	emitter.Emit(&Event{Type: EventUsage, WorkflowID: "wf", InputTokens: 100, OutputTokens: 50, Cost: 0.01})
	emitter.Done("wf")

	var frames []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame), "each line is a standalone JSON frame")
		frames = append(frames, frame)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, frames, 4)
	assert.Equal(t, "step", frames[0]["type"])
	assert.Equal(t, "running", frames[0]["status"])
	assert.Equal(t, "content", frames[1]["type"])
	assert.Equal(t, "hello", frames[1]["content"])
	assert.Equal(t, "usage", frames[2]["type"])
	assert.InDelta(t, 100, frames[2]["input_tokens"].(float64), 1e-9)
	assert.Equal(t, "done", frames[3]["type"], "the stream ends with a sentinel frame")
}

func TestMultiEmitter(t *testing.T) {
	a := &captureEmitter{}
	b := &captureEmitter{}
	multi := NewMultiEmitter(a, b)

	multi.Emit(&Event{Type: EventError, Message: "boom"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "boom", a.events[0].Message)
}
