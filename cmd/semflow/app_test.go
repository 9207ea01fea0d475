package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/workflow"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"
	return cfg
}

func TestBuildAppWithMemoryBackend(t *testing.T) {
	a, err := buildApp(context.Background(), memoryConfig(), newLogger("error"), nil)
	require.NoError(t, err)
	defer a.close()

	require.NotNil(t, a.engine)
	require.NotNil(t, a.monitor)
	require.NotNil(t, a.metrics)
	assert.Nil(t, a.natsConn)
}

func TestBuildAppSeedsCatalog(t *testing.T) {
	cfg := memoryConfig()
	a, err := buildApp(context.Background(), cfg, newLogger("error"), nil)
	require.NoError(t, err)
	defer a.close()

	models, err := a.registry.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, len(cfg.Models.Catalog))
}

func TestBuildAppRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "postgres"
	_, err := buildApp(context.Background(), cfg, newLogger("error"), nil)
	assert.Error(t, err)
}

func TestBuildAppStreamSinkTerminatesWithDone(t *testing.T) {
	var buf bytes.Buffer
	a, err := buildApp(context.Background(), memoryConfig(), newLogger("error"), &buf)
	require.NoError(t, err)
	defer a.close()

	require.NotNil(t, a.stream)
	a.stream.Emit(&workflow.Event{Type: workflow.EventStep, WorkflowID: "wf", Status: workflow.StatusRunning})
	a.stream.Done("wf")

	var frames []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		frames = append(frames, frame)
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "done", last["type"])
	assert.Equal(t, "wf", last["workflow_id"])
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmpl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: research-flow
name: Research flow
steps:
  - id: research
    name: Research
    type: sequential
    agent_type: research
    prompt_template: "Research {{input}}"
  - id: draft
    name: Draft
    type: sequential
    agent_type: draft
    prompt_template: "Draft from {{research.output}}"
    dependencies: [research]
    input_variables: [research.output]
`), 0644))

	tmpl, err := loadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "research-flow", tmpl.ID)
	require.Len(t, tmpl.Steps, 2)
	assert.Equal(t, []string{"research"}, tmpl.Steps[1].Dependencies)
	require.NoError(t, workflow.ValidateTemplate(tmpl))
}

func TestLoadTemplateMissingFile(t *testing.T) {
	_, err := loadTemplate(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDepsDone(t *testing.T) {
	w := &workflow.Instance{
		Context: workflow.Context{
			History: []workflow.HistoryEntry{{Step: "a"}},
		},
	}
	assert.True(t, depsDone(w, &workflow.Step{ID: "b", Dependencies: []string{"a"}}))
	assert.False(t, depsDone(w, &workflow.Step{ID: "c", Dependencies: []string{"a", "b"}}))
	assert.True(t, depsDone(w, &workflow.Step{ID: "d"}))
}

func TestRootCmdWiring(t *testing.T) {
	cmd := rootCmd()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "run", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
