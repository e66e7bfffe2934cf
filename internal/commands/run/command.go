// Copyright 2025 The Hyperagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperagent/hyperagent/pkg/workflow"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		inputs      []string
		sessionDir  string
		model       string
		maxRounds   int
		registryDir string
		jsonOutput  bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow document",
		Long: `Run loads a workflow document, validates it, and executes its flow
until an outcome fires or the round budget is exhausted.

Inputs are supplied as key=value pairs; values that parse as JSON are
passed structured, everything else is passed as a string.

Workflows with agent steps need a session provider and cannot run from
this command alone; embed the orchestrator and supply one.`,
		Example: `  # Run a workflow with two inputs
  hyperagent run review.yaml -i title="Fix flaky test" -i attempts=3

  # Resolve nested workflows from a directory
  hyperagent run pipeline.yaml --registry ./workflows

  # Machine-readable result
  hyperagent run pipeline.yaml --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(args[0], inputs, sessionDir, model, maxRounds, registryDir, jsonOutput, quiet)
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "Workflow input in key=value format")
	cmd.Flags().StringVar(&sessionDir, "session-dir", ".", "Directory for sessions and provenance records")
	cmd.Flags().StringVar(&model, "model", "", "Override the document's model")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Override the document's round budget")
	cmd.Flags().StringVar(&registryDir, "registry", "", "Directory of workflow documents for nested workflow steps")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the run result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runWorkflow(path string, inputs []string, sessionDir, model string, maxRounds int, registryDir string, jsonOutput, quiet bool) error {
	doc, err := workflow.LoadDocument(path)
	if err != nil {
		return err
	}

	user, err := ParseInputs(inputs)
	if err != nil {
		return err
	}

	opts := workflow.Options{
		User:       user,
		SessionDir: sessionDir,
		Model:      model,
		MaxRounds:  maxRounds,
	}

	if registryDir != "" {
		registry, err := workflow.NewDirRegistry(registryDir)
		if err != nil {
			return err
		}
		defer registry.Close()
		opts.Workflows = registry
	}

	if !quiet && !jsonOutput {
		opts.OnStream = func(event workflow.Event) {
			switch event.Type {
			case workflow.EventStepCompleted:
				fmt.Fprintf(os.Stderr, "round %d: step %s completed\n", event.Round, event.Step)
			case workflow.EventRunFinished:
				fmt.Fprintf(os.Stderr, "run finished: %s\n", event.Outcome)
			}
		}
	}

	handle, err := workflow.RunWorkflow(doc, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()

	result, err := handle.Wait(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	fmt.Printf("outcome: %s\n", result.Outcome)
	if result.Reason != "" {
		fmt.Printf("reason:  %s\n", result.Reason)
	}
	fmt.Printf("rounds:  %d\n", len(result.Rounds))
	fmt.Printf("run id:  %s\n", result.RunID)
	return nil
}
