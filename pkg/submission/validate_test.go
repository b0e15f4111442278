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
package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReachability struct {
	err    error
	probed int
}

func (s *stubReachability) Probe(ctx context.Context, endpoint AgentEndpoint) error {
	s.probed++
	return s.err
}

func testLocals() *LocalAgentRegistry {
	locals := NewLocalAgentRegistry()
	locals.Register("demo", "echo", func(ctx context.Context, prompt string) (*InvokeResult, error) {
		return &InvokeResult{Output: prompt}, nil
	})
	return locals
}

func localSubmission(id, by string) *Submission {
	return &Submission{
		SubmissionID:  id,
		AgentName:     "demo-agent",
		AgentVersion:  "1.2.0",
		ContactEmail:  "dev@example.com",
		Endpoint:      AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "echo"},
		Categories:    []string{"basic"},
		TermsAccepted: true,
		SubmittedBy:   by,
		SubmittedAt:   time.Now().UTC(),
	}
}

func testValidator(reach Reachability) *Validator {
	return NewValidator(NewQuotaStore(), []string{"basic", "tools"}, reach, testLocals())
}

func TestValidateAcceptsWellFormedSubmission(t *testing.T) {
	v := testValidator(nil)

	res := v.Validate(context.Background(), localSubmission("sub-1", "alice"))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{
		"required_fields", "terms_accepted", "quota", "endpoint_reachable",
		"categories_valid", "endpoint_type", "authentication", "email_valid",
		"version_format", "organization",
	}, res.ChecksPerformed)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	v := testValidator(nil)

	res := v.Validate(context.Background(), &Submission{
		Endpoint: AgentEndpoint{Kind: EndpointHTTP},
	})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "required_fields: agent_name is required")
	assert.Contains(t, res.Errors, "required_fields: contact_email is required")
	assert.Contains(t, res.Errors, "required_fields: submitted_by is required")
	assert.Contains(t, res.Errors, "required_fields: at least one category is required")
	assert.Contains(t, res.Errors, "terms_accepted: benchmark terms must be accepted")
	assert.Contains(t, res.Errors, "endpoint_type: http endpoint requires a url")
}

func TestValidateQuotaDenialBecomesError(t *testing.T) {
	quota := NewQuotaStore()
	v := NewValidator(quota, []string{"basic"}, nil, testLocals())
	require.True(t, quota.Admit("alice").Allowed)

	res := v.Validate(context.Background(), localSubmission("sub-2", "alice"))
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "quota: minimum gap")
	assert.Contains(t, res.Errors[0], "retry after")
}

func TestValidateProbesHTTPEndpoints(t *testing.T) {
	reach := &stubReachability{err: errors.New("connection refused")}
	v := testValidator(reach)

	sub := localSubmission("sub-3", "alice")
	sub.Endpoint = AgentEndpoint{Kind: EndpointHTTP, URL: "https://agent.example.com/invoke"}

	res := v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Equal(t, 1, reach.probed)
	assert.Contains(t, res.Errors[0], "endpoint_reachable: endpoint did not respond")

	reach.err = nil
	res = v.Validate(context.Background(), sub)
	assert.True(t, res.Valid)
}

func TestValidateUnknownLocalAgent(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-4", "alice")
	sub.Endpoint.Function = "missing"

	res := v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "local agent demo.missing not found")
}

func TestValidateUnknownCategory(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-5", "alice")
	sub.Categories = []string{"basic", "nonexistent"}

	res := v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], `unknown category "nonexistent"`)
}

func TestValidateGRPCIsReservedWarning(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-6", "alice")
	sub.Endpoint = AgentEndpoint{Kind: EndpointGRPC, URL: "grpc://agent.example.com"}

	res := v.Validate(context.Background(), sub)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "reserved")
}

func TestValidateAuthentication(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-7", "alice")
	sub.Endpoint.Auth = &EndpointAuth{Scheme: AuthBearer, Token: "tok"}
	res := v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "local endpoints do not take credentials")

	sub = localSubmission("sub-8", "alice")
	sub.Endpoint = AgentEndpoint{
		Kind: EndpointHTTP,
		URL:  "https://agent.example.com",
		Auth: &EndpointAuth{Scheme: AuthBearer},
	}
	res = v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "bearer auth requires a token")

	sub.Endpoint.Auth = &EndpointAuth{Scheme: "mtls", Token: "tok"}
	res = v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], `unknown auth scheme "mtls"`)
}

func TestValidateEmailFormat(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-9", "alice")
	sub.ContactEmail = "not-an-address"

	res := v.Validate(context.Background(), sub)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "contact_email is not a valid address")
}

func TestValidateVersionAndOrganizationWarnings(t *testing.T) {
	v := testValidator(nil)

	sub := localSubmission("sub-10", "alice")
	sub.AgentVersion = "latest"
	sub.Organization = "Example Corp"

	res := v.Validate(context.Background(), sub)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], `agent_version "latest" is not semver`)
	assert.Contains(t, res.Warnings[1], `organization "Example Corp" is not verified`)
}
