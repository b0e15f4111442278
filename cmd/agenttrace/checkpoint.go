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
	"context"

	"github.com/spf13/cobra"

	"github.com/agenttrace/agenttrace/pkg/audit"
)

var (
	checkpointOrg  string
	checkpointDate string
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Create or inspect daily audit checkpoints",
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Build and seal the checkpoint for an organization-day",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		storage, err := openAuditStorage(ctx, config)
		if err != nil {
			return err
		}
		var tsa audit.TSAClient
		if config.Audit.TSAURL != "" {
			if tsa, err = audit.NewHTTPTSAClient(config.Audit.TSAURL, nil); err != nil {
				return err
			}
		}
		cp, err := audit.NewCheckpointer(storage, tsa).Create(ctx, checkpointOrg, checkpointDate)
		if err != nil {
			return err
		}
		printJSON(cp)
		return nil
	},
}

var checkpointInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the stored checkpoint for an organization-day",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		storage, err := openAuditStorage(ctx, config)
		if err != nil {
			return err
		}
		cp, err := storage.GetCheckpoint(ctx, checkpointOrg, checkpointDate)
		if err != nil {
			return err
		}
		printJSON(cp)
		return nil
	},
}

func init() {
	checkpointCmd.PersistentFlags().StringVar(&checkpointOrg, "org", "", "Organization")
	checkpointCmd.PersistentFlags().StringVar(&checkpointDate, "date", "", "UTC day (2006-01-02)")
	_ = checkpointCmd.MarkPersistentFlagRequired("org")
	_ = checkpointCmd.MarkPersistentFlagRequired("date")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd)
}
