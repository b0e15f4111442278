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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Audit storage backends.
const (
	backendLocal       = "local"
	backendObjectstore = "objectstore"
)

// Config is the resolved process configuration: defaults, then config
// file, then environment, then flags.
type Config struct {
	APIKey  string
	Project string
	Workers int

	Export struct {
		URL           string
		BatchSize     int
		BatchInterval time.Duration
	}

	Audit struct {
		Backend       string
		Path          string
		Bucket        string
		RetentionDays int
		BatchSize     int
		BatchInterval time.Duration
		TSAURL        string
	}

	Judge struct {
		Provider    string
		Model       string
		Temperature float64
		MaxTokens   int
		Timeout     time.Duration
		MaxRetries  int
		Cache       bool
	}

	Submission struct {
		Benchmark string
		StateFile string
	}

	Log struct {
		Level  string
		Format string
	}
}

func setDefaults() {
	viper.SetDefault("workers", 3)

	viper.SetDefault("export.batch_size", 100)
	viper.SetDefault("export.batch_interval", "5s")

	viper.SetDefault("audit.backend", backendLocal)
	viper.SetDefault("audit.path", "agenttrace-data")
	viper.SetDefault("audit.retention_days", 365)
	viper.SetDefault("audit.batch_size", 100)
	viper.SetDefault("audit.batch_interval", "5s")

	viper.SetDefault("judge.provider", "anthropic")
	viper.SetDefault("judge.temperature", 0.0)
	viper.SetDefault("judge.max_tokens", 1024)
	viper.SetDefault("judge.timeout", "30s")
	viper.SetDefault("judge.max_retries", 3)
	viper.SetDefault("judge.cache", true)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func bindEnv() {
	_ = viper.BindEnv("api_key", "AGENTTRACE_API_KEY")
	_ = viper.BindEnv("project", "AGENTTRACE_PROJECT")
	_ = viper.BindEnv("export.url", "AGENTTRACE_EXPORT_URL")

	_ = viper.BindEnv("audit.backend", "AUDIT_STORAGE_BACKEND")
	_ = viper.BindEnv("audit.path", "AUDIT_STORAGE_PATH")
	_ = viper.BindEnv("audit.bucket", "AUDIT_BUCKET")
	_ = viper.BindEnv("audit.retention_days", "AUDIT_RETENTION_DAYS")
	_ = viper.BindEnv("audit.batch_size", "AUDIT_BATCH_SIZE")
	_ = viper.BindEnv("audit.batch_interval", "AUDIT_BATCH_INTERVAL")

	_ = viper.BindEnv("judge.provider", "JUDGE_PROVIDER")
	_ = viper.BindEnv("judge.model", "JUDGE_MODEL")
	_ = viper.BindEnv("judge.temperature", "JUDGE_TEMPERATURE")
	_ = viper.BindEnv("judge.max_tokens", "JUDGE_MAX_TOKENS")
	_ = viper.BindEnv("judge.timeout", "JUDGE_TIMEOUT")
	_ = viper.BindEnv("judge.max_retries", "JUDGE_MAX_RETRIES")
	_ = viper.BindEnv("judge.cache", "JUDGE_CACHE")
}

// LoadConfig resolves the configuration. A missing config file is only an
// error when one was named explicitly.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("agenttrace")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.agenttrace")
	}

	setDefaults()
	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		APIKey:  viper.GetString("api_key"),
		Project: viper.GetString("project"),
		Workers: viper.GetInt("workers"),
	}
	cfg.Export.URL = viper.GetString("export.url")
	cfg.Export.BatchSize = viper.GetInt("export.batch_size")
	cfg.Export.BatchInterval = viper.GetDuration("export.batch_interval")

	cfg.Audit.Backend = viper.GetString("audit.backend")
	cfg.Audit.Path = viper.GetString("audit.path")
	cfg.Audit.Bucket = viper.GetString("audit.bucket")
	cfg.Audit.RetentionDays = viper.GetInt("audit.retention_days")
	cfg.Audit.BatchSize = viper.GetInt("audit.batch_size")
	cfg.Audit.BatchInterval = viper.GetDuration("audit.batch_interval")
	cfg.Audit.TSAURL = viper.GetString("audit.tsa_url")

	cfg.Judge.Provider = viper.GetString("judge.provider")
	cfg.Judge.Model = viper.GetString("judge.model")
	cfg.Judge.Temperature = viper.GetFloat64("judge.temperature")
	cfg.Judge.MaxTokens = viper.GetInt("judge.max_tokens")
	cfg.Judge.Timeout = viper.GetDuration("judge.timeout")
	cfg.Judge.MaxRetries = viper.GetInt("judge.max_retries")
	cfg.Judge.Cache = viper.GetBool("judge.cache")

	cfg.Submission.Benchmark = viper.GetString("submission.benchmark")
	cfg.Submission.StateFile = viper.GetString("submission.state_file")

	cfg.Log.Level = viper.GetString("log.level")
	cfg.Log.Format = viper.GetString("log.format")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Audit.Backend {
	case backendLocal:
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for the local backend")
		}
	case backendObjectstore:
		if c.Audit.Bucket == "" {
			return fmt.Errorf("audit.bucket is required for the objectstore backend")
		}
	default:
		return fmt.Errorf("invalid audit.backend %q (want local or objectstore)", c.Audit.Backend)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be at least 1")
	}
	return nil
}
