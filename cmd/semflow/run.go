package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semflow/workflow"
)

func runCmd(configPath, logLevel *string) *cobra.Command {
	var (
		input  string
		userID string
	)

	cmd := &cobra.Command{
		Use:   "run <template.yaml>",
		Short: "Execute a workflow template",
		Long: `Loads a workflow template from a YAML file, creates a workflow for it,
and executes every step in dependency order. Execution events are
streamed to stdout as newline-delimited JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplate(*configPath, *logLevel, args[0], userID, input)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Initial workflow input")
	cmd.Flags().StringVar(&userID, "user", "local", "User the workflow runs as")

	return cmd
}

func runTemplate(configPath, logLevel, templatePath, userID, input string) error {
	logger := newLogger(logLevel)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	tmpl, err := loadTemplate(templatePath)
	if err != nil {
		return err
	}
	if err := a.templates.Register(tmpl); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	workflowID, err := a.engine.Create(ctx, userID, tmpl.ID, input, nil)
	if err != nil {
		return err
	}
	logger.Info("Workflow created", "workflow_id", workflowID, "template", tmpl.ID)

	driveErr := driveWorkflow(ctx, a, workflowID)
	if a.stream != nil {
		// The stream ends with a sentinel frame regardless of outcome, so
		// consumers reading the push channel know no more frames follow.
		a.stream.Done(workflowID)
	}
	if driveErr != nil {
		return driveErr
	}

	w, err := a.engine.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	logger.Info("Workflow finished",
		"workflow_id", workflowID,
		"status", w.Status,
		"progress", w.Progress,
		"total_cost", w.TotalCost)
	if w.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s ended %s: %s", workflowID, w.Status, w.ErrorMessage)
	}
	return nil
}

func loadTemplate(path string) (*workflow.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var tmpl workflow.Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &tmpl, nil
}

// driveWorkflow executes steps in dependency order. Each pass collects every
// step whose dependencies have completed and runs the batch concurrently.
// Execution stops at the first failed step; its retry budget stays available
// for semflow serve or a manual retry.
func driveWorkflow(ctx context.Context, a *app, workflowID string) error {
	for {
		w, err := a.engine.Get(ctx, workflowID)
		if err != nil {
			return err
		}
		if w.Status == workflow.StatusCompleted {
			return nil
		}
		if w.Status == workflow.StatusFailed {
			return nil
		}

		var ready []string
		for _, step := range w.Steps {
			if w.Context.HasExecuted(step.ID) {
				continue
			}
			if depsDone(w, &step) {
				ready = append(ready, step.ID)
			}
		}
		if len(ready) == 0 {
			return fmt.Errorf("workflow %s stalled: no runnable steps at %s", workflowID, w.Status)
		}

		if len(ready) == 1 {
			if _, err := a.engine.ExecuteStep(ctx, workflowID, ready[0]); err != nil {
				return err
			}
			continue
		}
		if _, err := a.engine.ExecuteParallelSteps(ctx, workflowID, ready); err != nil {
			return err
		}
	}
}

func depsDone(w *workflow.Instance, step *workflow.Step) bool {
	for _, dep := range step.Dependencies {
		if !w.Context.HasExecuted(dep) {
			return false
		}
	}
	return true
}
