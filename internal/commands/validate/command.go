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

package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/workflow"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow document",
		Long: `Validate checks that a workflow document parses and satisfies the
structural rules: unique step keys, resolvable role and parser
references, a reachable round start, and a default outcome.

Validation needs no provider configuration; it inspects only the
document itself.`,
		Example: `  # Basic validation
  hyperagent validate review.yaml

  # Machine-readable report
  hyperagent validate review.yaml --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the validation report as JSON")
	return cmd
}

type report struct {
	Valid      bool   `json:"valid"`
	WorkflowID string `json:"workflowId,omitempty"`
	Field      string `json:"field,omitempty"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func runValidate(path string, jsonOutput bool) error {
	doc, err := workflow.LoadDocument(path)
	if err != nil {
		r := report{Error: err.Error()}
		var schemaErr *errors.SchemaError
		if errors.As(err, &schemaErr) {
			r.Field = schemaErr.Field
			r.Error = schemaErr.Message
			r.Suggestion = schemaErr.Suggestion
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(r)
		}
		fmt.Fprintf(os.Stderr, "invalid: %s\n", r.Error)
		if r.Field != "" {
			fmt.Fprintf(os.Stderr, "  field: %s\n", r.Field)
		}
		if r.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  hint:  %s\n", r.Suggestion)
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(report{Valid: true, WorkflowID: doc.ID})
	}
	fmt.Printf("valid: %s\n", doc.ID)
	return nil
}
