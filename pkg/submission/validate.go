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
	"net/http"
	"net/mail"
	"regexp"
	"time"
)

var semverRe = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

// ReachabilityTimeout bounds the endpoint ping during validation.
const ReachabilityTimeout = 5 * time.Second

// Reachability probes whether an endpoint can be reached. The HTTP prober
// is the production implementation; tests substitute their own.
type Reachability interface {
	Probe(ctx context.Context, endpoint AgentEndpoint) error
}

// Validator runs the ordered submission checks.
type Validator struct {
	quota *QuotaStore
	// categories is the set of benchmark categories a submission may
	// target.
	categories map[string]bool
	reach      Reachability
	locals     *LocalAgentRegistry
}

// NewValidator wires the validator's collaborators. reach may be nil to
// skip network probing (local submissions still resolve against locals).
func NewValidator(quota *QuotaStore, categories []string, reach Reachability, locals *LocalAgentRegistry) *Validator {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return &Validator{quota: quota, categories: set, reach: reach, locals: locals}
}

// Validate runs every check in order and reports all findings. Errors make
// the submission invalid; warnings do not.
func (v *Validator) Validate(ctx context.Context, sub *Submission) *ValidationResult {
	res := &ValidationResult{}

	v.checkRequiredFields(res, sub)
	v.checkTerms(res, sub)
	v.checkQuota(res, sub)
	v.checkReachable(ctx, res, sub)
	v.checkCategories(res, sub)
	v.checkEndpointKind(res, sub)
	v.checkAuthentication(res, sub)
	v.checkEmail(res, sub)
	v.checkVersion(res, sub)
	v.checkOrganization(res, sub)

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkRequiredFields(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "required_fields")
	if sub.AgentName == "" {
		res.addError("required_fields", "agent_name is required")
	}
	if sub.ContactEmail == "" {
		res.addError("required_fields", "contact_email is required")
	}
	if sub.SubmittedBy == "" {
		res.addError("required_fields", "submitted_by is required")
	}
	if len(sub.Categories) == 0 {
		res.addError("required_fields", "at least one category is required")
	}
}

func (v *Validator) checkTerms(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "terms_accepted")
	if !sub.TermsAccepted {
		res.addError("terms_accepted", "benchmark terms must be accepted")
	}
}

func (v *Validator) checkQuota(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "quota")
	if sub.SubmittedBy == "" {
		return
	}
	if d := v.quota.Check(sub.SubmittedBy); !d.Allowed {
		res.addError("quota", "%s (retry after %s)", d.Reason, d.RetryAfter.Round(time.Second))
	}
}

func (v *Validator) checkReachable(ctx context.Context, res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "endpoint_reachable")
	switch sub.Endpoint.Kind {
	case EndpointLocal:
		if v.locals == nil {
			res.addError("endpoint_reachable", "no local agents registered")
			return
		}
		if _, err := v.locals.Resolve(sub.Endpoint.Module, sub.Endpoint.Function); err != nil {
			res.addError("endpoint_reachable", "local agent %s.%s not found",
				sub.Endpoint.Module, sub.Endpoint.Function)
		}
	case EndpointHTTP:
		if v.reach == nil {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, ReachabilityTimeout)
		defer cancel()
		if err := v.reach.Probe(probeCtx, sub.Endpoint); err != nil {
			res.addError("endpoint_reachable", "endpoint did not respond: %v", err)
		}
	}
}

func (v *Validator) checkCategories(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "categories_valid")
	for _, c := range sub.Categories {
		if !v.categories[c] {
			res.addError("categories_valid", "unknown category %q", c)
		}
	}
}

func (v *Validator) checkEndpointKind(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "endpoint_type")
	switch sub.Endpoint.Kind {
	case EndpointHTTP:
		if sub.Endpoint.URL == "" {
			res.addError("endpoint_type", "http endpoint requires a url")
		}
	case EndpointLocal:
		if sub.Endpoint.Module == "" || sub.Endpoint.Function == "" {
			res.addError("endpoint_type", "local endpoint requires module and function")
		}
	case EndpointGRPC:
		res.addWarning("endpoint_type", "grpc endpoints are reserved and cannot execute yet")
	default:
		res.addError("endpoint_type", "unsupported endpoint kind %q", sub.Endpoint.Kind)
	}
}

func (v *Validator) checkAuthentication(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "authentication")
	auth := sub.Endpoint.Auth
	if auth == nil {
		return
	}
	if sub.Endpoint.Kind == EndpointLocal {
		res.addError("authentication", "local endpoints do not take credentials")
		return
	}
	switch auth.Scheme {
	case AuthBearer, AuthAPIKey:
		if auth.Token == "" {
			res.addError("authentication", "%s auth requires a token", auth.Scheme)
		}
	case AuthNone:
	default:
		res.addError("authentication", "unknown auth scheme %q", auth.Scheme)
	}
}

func (v *Validator) checkEmail(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "email_valid")
	if sub.ContactEmail == "" {
		return
	}
	if _, err := mail.ParseAddress(sub.ContactEmail); err != nil {
		res.addError("email_valid", "contact_email is not a valid address")
	}
}

func (v *Validator) checkVersion(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "version_format")
	if sub.AgentVersion != "" && !semverRe.MatchString(sub.AgentVersion) {
		res.addWarning("version_format", "agent_version %q is not semver", sub.AgentVersion)
	}
}

func (v *Validator) checkOrganization(res *ValidationResult, sub *Submission) {
	res.ChecksPerformed = append(res.ChecksPerformed, "organization")
	if sub.Organization != "" && !sub.OrganizationVerified {
		res.addWarning("organization", "organization %q is not verified", sub.Organization)
	}
}

// HTTPReachability probes HTTP endpoints with a HEAD request, falling back
// to POST for servers that reject HEAD outright.
type HTTPReachability struct {
	Client *http.Client
}

func (r *HTTPReachability) Probe(ctx context.Context, endpoint AgentEndpoint) error {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: ReachabilityTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			return nil
		}
		// Some agent servers only speak POST.
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, nil)
		if err != nil {
			return err
		}
		resp, err = client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			return nil
		}
	}
	return err
}
