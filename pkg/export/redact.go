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
package export

import (
	"regexp"
	"strings"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// PrivacyConfig controls what data is redacted before export.
type PrivacyConfig struct {
	// RedactCredentials removes password, api_key, token fields from spans.
	RedactCredentials bool

	// RedactPII masks email, phone, SSN, and card patterns in string values.
	RedactPII bool

	// AllowedAttributes is a whitelist of attribute keys that bypass redaction.
	AllowedAttributes []string
}

// PII patterns, compiled once at package init.
var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern      = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

var credentialKeys = []string{
	"password", "api_key", "token", "secret", "authorization",
	"access_token", "refresh_token", "bearer", "apikey",
	"client_secret", "private_key", "ssh_key", "aws_secret",
}

// Redactor applies privacy rules to spans before they leave the process.
type Redactor struct {
	cfg     PrivacyConfig
	allowed map[string]bool
}

// NewRedactor creates a redactor for the given config.
func NewRedactor(cfg PrivacyConfig) *Redactor {
	allowed := make(map[string]bool, len(cfg.AllowedAttributes))
	for _, key := range cfg.AllowedAttributes {
		allowed[key] = true
	}
	return &Redactor{cfg: cfg, allowed: allowed}
}

// Apply redacts a span in place and returns it.
func (r *Redactor) Apply(span *trace.Span) *trace.Span {
	if !r.cfg.RedactCredentials && !r.cfg.RedactPII {
		return span
	}

	if r.cfg.RedactCredentials {
		for key := range span.Attributes {
			if r.allowed[key] {
				continue
			}
			if isCredentialKey(key) {
				delete(span.Attributes, key)
			}
		}
	}

	if r.cfg.RedactPII {
		for key, value := range span.Attributes {
			if r.allowed[key] {
				continue
			}
			if strVal, ok := value.(string); ok {
				if red := maskPII(strVal); red != strVal {
					span.Attributes[key] = red
				}
			}
		}
		for i := range span.Events {
			for key, value := range span.Events[i].Attributes {
				if r.allowed[key] {
					continue
				}
				if strVal, ok := value.(string); ok {
					if red := maskPII(strVal); red != strVal {
						span.Events[i].Attributes[key] = red
					}
				}
			}
		}
		span.Input = maskPII(span.Input)
		span.Output = maskPII(span.Output)
	}

	return span
}

func isCredentialKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, cred := range credentialKeys {
		if keyLower == cred {
			return true
		}
	}
	if strings.Contains(keyLower, "password") ||
		strings.Contains(keyLower, "secret") ||
		strings.Contains(keyLower, "token") ||
		(strings.Contains(keyLower, "key") && strings.Contains(keyLower, "api")) {
		return true
	}
	return false
}

func maskPII(s string) string {
	if s == "" {
		return s
	}
	s = emailPattern.ReplaceAllString(s, "[EMAIL_REDACTED]")
	s = phonePattern.ReplaceAllString(s, "[PHONE_REDACTED]")
	s = ssnPattern.ReplaceAllString(s, "[SSN_REDACTED]")
	s = creditCardPattern.ReplaceAllString(s, "[CARD_REDACTED]")
	return s
}
