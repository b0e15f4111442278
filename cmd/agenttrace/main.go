// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/agenttrace/agenttrace/internal/version"
)

// Serve exit codes.
const (
	exitOK              = 0
	exitConfig          = 2
	exitStorage         = 3
	exitShutdownTimeout = 4
)

var (
	cfgFile string
	config  *Config
)

var rootCmd = &cobra.Command{
	Use:     "agenttrace",
	Short:   "AgentTrace EAIC - Evaluation, Audit & Integrity Core",
	Long:    `AgentTrace (agenttrace) runs the evaluation, audit, and integrity core: span export pipelines, the tamper-evident audit chain with daily Merkle checkpoints, the evaluator runtime, and benchmark submission processing.`,
	Version: version.Get(),
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agenttrace.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(exportCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitConfig)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
