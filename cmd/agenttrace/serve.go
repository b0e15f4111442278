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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/audit"
	auditexport "github.com/agenttrace/agenttrace/pkg/audit/export"
	"github.com/agenttrace/agenttrace/pkg/export"
	"github.com/agenttrace/agenttrace/pkg/submission"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation, audit & integrity core",
	Long: `Starts the audit chain service with its checkpoint scheduler, the span
export pipeline, the audit export worker, and (when a benchmark suite is
configured) the submission orchestrator.

Press Ctrl+C to gracefully shutdown.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(serve())
	},
}

func init() {
	serveCmd.Flags().String("export-url", "", "Span collector endpoint (empty logs batches to stdout)")
	serveCmd.Flags().String("audit-backend", backendLocal, "Audit storage backend (local, objectstore)")
	serveCmd.Flags().String("audit-bucket", "", "Object-Lock bucket for the objectstore backend")
	serveCmd.Flags().Int("workers", 3, "Export and submission worker count")

	_ = viper.BindPFlag("export.url", serveCmd.Flags().Lookup("export-url"))
	_ = viper.BindPFlag("audit.backend", serveCmd.Flags().Lookup("audit-backend"))
	_ = viper.BindPFlag("audit.bucket", serveCmd.Flags().Lookup("audit-bucket"))
	_ = viper.BindPFlag("workers", serveCmd.Flags().Lookup("workers"))
}

func serve() int {
	cfg := config
	if err := log.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openAuditStorage(ctx, cfg)
	if err != nil {
		log.Error("audit storage init failed", zap.Error(err))
		return exitStorage
	}

	auditSvc := audit.NewService(storage, audit.ServiceConfig{
		BatchSize:     cfg.Audit.BatchSize,
		BatchInterval: cfg.Audit.BatchInterval,
	})

	var tsa audit.TSAClient
	if cfg.Audit.TSAURL != "" {
		tsa, err = audit.NewHTTPTSAClient(cfg.Audit.TSAURL, nil)
		if err != nil {
			log.Error("invalid timestamp authority", zap.Error(err))
			return exitConfig
		}
	}
	checkpointer := audit.NewCheckpointer(storage, tsa)
	scheduler, err := audit.NewScheduler(checkpointer, auditSvc.Organizations, audit.SchedulerConfig{})
	if err != nil {
		log.Error("checkpoint scheduler init failed", zap.Error(err))
		return exitConfig
	}
	scheduler.Start()

	pipeline, err := buildPipeline(cfg, auditSvc)
	if err != nil {
		log.Error("export pipeline init failed", zap.Error(err))
		return exitConfig
	}

	jobs, err := auditexport.OpenJobStore(filepath.Join(cfg.Audit.Path, "exports.db"))
	if err != nil {
		log.Error("export job store init failed", zap.Error(err))
		return exitStorage
	}
	artifactDir := filepath.Join(cfg.Audit.Path, "exports")
	if err := os.MkdirAll(artifactDir, 0o700); err != nil {
		log.Error("export artifact dir init failed", zap.Error(err))
		return exitStorage
	}
	exporter := auditexport.NewExporter(jobs, storage, auditexport.ExporterConfig{
		Dir:      artifactDir,
		Recorder: auditSvc,
	})
	go exporter.Run(ctx)

	orchestrator, err := buildOrchestrator(cfg)
	if err != nil {
		log.Error("submission orchestrator init failed", zap.Error(err))
		return exitConfig
	}
	if orchestrator != nil {
		if restored, err := orchestrator.Restore(); err != nil {
			log.Warn("submission state restore failed", zap.Error(err))
		} else if restored > 0 {
			log.Info("submissions restored", zap.Int("count", restored))
		}
		orchestrator.Start(ctx)
	}

	log.Info("agenttrace serving",
		zap.String("project", cfg.Project),
		zap.String("audit_backend", cfg.Audit.Backend),
		zap.Int("workers", cfg.Workers))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if orchestrator != nil {
		if err := orchestrator.Stop(true); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := auditSvc.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	_ = jobs.Close()

	if shutdownErr != nil {
		log.Error("shutdown incomplete", zap.Error(shutdownErr))
		return exitShutdownTimeout
	}
	return exitOK
}

// openAuditStorage builds the configured audit backend. Local storage
// lives under <audit.path>/audit; the objectstore backend requires an
// Object-Lock bucket.
func openAuditStorage(ctx context.Context, cfg *Config) (audit.Storage, error) {
	switch cfg.Audit.Backend {
	case backendLocal:
		return audit.NewLocalStorage(filepath.Join(cfg.Audit.Path, "audit"))
	case backendObjectstore:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return audit.NewObjectStorage(ctx, s3.NewFromConfig(awsCfg), audit.ObjectStorageConfig{
			Bucket:    cfg.Audit.Bucket,
			Prefix:    "audit",
			Retention: time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour,
		})
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}

// buildPipeline wires the span pipeline: the collector (or console) sink
// fans out alongside the audit sink, with dead-lettering under the data
// dir.
func buildPipeline(cfg *Config, auditSvc *audit.Service) (*export.Pipeline, error) {
	var spanSink export.Sink
	if cfg.Export.URL != "" {
		sink, err := export.NewHTTPSink(export.HTTPSinkConfig{
			Endpoint: cfg.Export.URL,
			APIKey:   cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}
		spanSink = sink
	} else {
		spanSink = export.NewConsoleSink()
	}

	dead, err := export.NewDeadLetter(cfg.Audit.Path)
	if err != nil {
		return nil, err
	}
	sink := export.NewCompositeSink(export.RetryPolicy{}, dead, spanSink, export.NewAuditSink(auditSvc))

	return export.NewPipeline(export.Config{
		Workers:       cfg.Workers,
		BatchSize:     cfg.Export.BatchSize,
		BatchInterval: cfg.Export.BatchInterval,
	}, sink)
}

// buildOrchestrator is a no-op unless a benchmark suite is configured.
func buildOrchestrator(cfg *Config) (*submission.Orchestrator, error) {
	if cfg.Submission.Benchmark == "" {
		return nil, nil
	}
	benchmark, err := submission.LoadBenchmark(cfg.Submission.Benchmark)
	if err != nil {
		return nil, err
	}
	stateFile := cfg.Submission.StateFile
	if stateFile == "" {
		stateFile = filepath.Join(cfg.Audit.Path, "submissions.json")
	}
	return submission.NewOrchestrator(submission.OrchestratorConfig{
		NumWorkers: cfg.Workers,
		StateFile:  stateFile,
	}, benchmark, &submission.HTTPReachability{}), nil
}
