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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	auditexport "github.com/agenttrace/agenttrace/pkg/audit/export"
	"github.com/agenttrace/agenttrace/pkg/audit/query"
)

var (
	exportOrg     string
	exportFromStr string
	exportToStr   string
	exportFormat  string
	exportOut     string
	exportVerify  bool
	exportGzip    bool
	exportEncKey  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run an audit export job to completion",
	Long: `Creates an export job for an organization and time range, processes it
synchronously, and prints the completed job including the artifact path.`,
	RunE: runExportCmd,
}

func init() {
	exportCmd.Flags().StringVar(&exportOrg, "org", "", "Organization to export")
	exportCmd.Flags().StringVar(&exportFromStr, "from", "", "Window start (2006-01-02 or RFC3339)")
	exportCmd.Flags().StringVar(&exportToStr, "to", "", "Window end, exclusive (2006-01-02 or RFC3339)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Artifact format (json, csv, parquet)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Artifact directory (default: <audit.path>/exports)")
	exportCmd.Flags().BoolVar(&exportVerify, "include-verification", false, "Include hashes and checkpoint references")
	exportCmd.Flags().BoolVar(&exportGzip, "gzip", false, "Compress the artifact")
	exportCmd.Flags().StringVar(&exportEncKey, "encrypt-key", "", "Hex-encoded 32-byte public key to seal the artifact to")
	_ = exportCmd.MarkFlagRequired("org")
	_ = exportCmd.MarkFlagRequired("from")
	_ = exportCmd.MarkFlagRequired("to")
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	from, err := parseTimeFlag(exportFromStr)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(exportToStr)
	if err != nil {
		return err
	}

	storage, err := openAuditStorage(ctx, config)
	if err != nil {
		return err
	}
	jobs, err := auditexport.OpenJobStore(filepath.Join(config.Audit.Path, "exports.db"))
	if err != nil {
		return err
	}
	defer func() { _ = jobs.Close() }()

	dir := exportOut
	if dir == "" {
		dir = filepath.Join(config.Audit.Path, "exports")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	exporter := auditexport.NewExporter(jobs, storage, auditexport.ExporterConfig{Dir: dir})
	operator := &query.Principal{ID: "cli", Capabilities: []query.Capability{query.CapabilityAdmin}}

	job, err := exporter.CreateExport(ctx, operator, auditexport.Request{
		OrganizationID:      exportOrg,
		From:                from,
		To:                  to,
		Format:              auditexport.Format(exportFormat),
		IncludeVerification: exportVerify,
		Compress:            exportGzip,
		EncryptionKey:       exportEncKey,
	})
	if err != nil {
		return err
	}

	exporter.ProcessPending(ctx)

	done, err := exporter.GetExport(ctx, operator, job.ExportID)
	if err != nil {
		return err
	}
	printJSON(done)

	if done.Status != auditexport.StatusCompleted {
		return fmt.Errorf("export %s: %s", done.Status, done.Error)
	}
	return nil
}
