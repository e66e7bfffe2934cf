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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperagent/hyperagent/internal/commands/run"
	"github.com/hyperagent/hyperagent/internal/commands/validate"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "hyperagent",
		Short: "Declarative multi-agent workflow orchestrator",
		Long: `Hyperagent executes declarative workflow documents that coordinate
LLM agent sessions, external commands, nested workflows, and data
transforms through a bounded round loop.`,
		SilenceUsage: true,
	}

	root.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)

	root.AddCommand(run.NewCommand())
	root.AddCommand(validate.NewCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
