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
// Package submission orchestrates benchmark runs of externally submitted
// agents: validation, quotas, queuing, circuit-broken invocation, budgeted
// task execution, and reproducible recording.
package submission

import (
	"fmt"
	"time"
)

// EndpointKind discriminates how a submitted agent is reached.
type EndpointKind string

const (
	EndpointHTTP  EndpointKind = "http"
	EndpointLocal EndpointKind = "local"
	// EndpointGRPC is reserved; submissions using it validate but cannot
	// execute yet.
	EndpointGRPC EndpointKind = "grpc"
)

// AuthScheme is the authentication mechanism for remote endpoints.
type AuthScheme string

const (
	AuthNone   AuthScheme = ""
	AuthBearer AuthScheme = "bearer"
	AuthAPIKey AuthScheme = "api_key"
)

// EndpointAuth carries credentials for a remote endpoint.
type EndpointAuth struct {
	Scheme AuthScheme `json:"scheme"`
	Token  string     `json:"token,omitempty"`
	// Header overrides the credential header for api_key auth
	// (default X-API-Key).
	Header string `json:"header,omitempty"`
}

// AgentEndpoint describes where and how to invoke a submitted agent.
type AgentEndpoint struct {
	Kind EndpointKind  `json:"kind"`
	URL  string        `json:"url,omitempty"`
	Auth *EndpointAuth `json:"auth,omitempty"`

	// Module and Function identify an in-process agent for kind=local.
	Module   string `json:"module,omitempty"`
	Function string `json:"function,omitempty"`
}

// Key identifies the endpoint for circuit-breaker and quota purposes.
func (e AgentEndpoint) Key() string {
	if e.Kind == EndpointLocal {
		return string(e.Kind) + ":" + e.Module + "." + e.Function
	}
	return string(e.Kind) + ":" + e.URL
}

// Submission is a request to benchmark an agent.
type Submission struct {
	SubmissionID  string        `json:"submission_id"`
	AgentName     string        `json:"agent_name"`
	AgentVersion  string        `json:"agent_version"`
	ContactEmail  string        `json:"contact_email"`
	Endpoint      AgentEndpoint `json:"endpoint"`
	Categories    []string      `json:"categories"`
	TermsAccepted bool          `json:"terms_accepted"`
	SubmittedBy   string        `json:"submitted_by"`
	Organization  string        `json:"organization,omitempty"`
	// OrganizationVerified is set by an out-of-band review process.
	OrganizationVerified bool      `json:"organization_verified,omitempty"`
	SubmittedAt          time.Time `json:"submitted_at"`
}

// ValidationResult reports the outcome of ordered submission checks.
type ValidationResult struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	ChecksPerformed []string `json:"checks_performed"`
}

func (v *ValidationResult) addError(check, format string, args ...any) {
	v.Errors = append(v.Errors, check+": "+fmt.Sprintf(format, args...))
}

func (v *ValidationResult) addWarning(check, format string, args ...any) {
	v.Warnings = append(v.Warnings, check+": "+fmt.Sprintf(format, args...))
}

// ExecutionProgress is multicast to observers after each task completes.
type ExecutionProgress struct {
	SubmissionID  string `json:"submission_id"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
	CurrentTask   string `json:"current_task"`
	StatusMessage string `json:"status_message"`
}
