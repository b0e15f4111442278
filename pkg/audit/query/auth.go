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
package query

import (
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Capability gates access to the audit read surface.
type Capability string

const (
	CapabilityRead   Capability = "audit:read"
	CapabilityExport Capability = "audit:export"
	CapabilityAdmin  Capability = "audit:admin"
)

// Principal is an authenticated caller. Admin implies every capability.
type Principal struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
}

// Can reports whether the principal holds the capability.
func (p *Principal) Can(c Capability) bool {
	for _, held := range p.Capabilities {
		if held == c || held == CapabilityAdmin {
			return true
		}
	}
	return false
}

// Require returns a permission error unless the principal holds c.
func (p *Principal) Require(c Capability) error {
	if p == nil || p.ID == "" {
		return aterrors.New(aterrors.KindPermission, "unauthenticated")
	}
	if !p.Can(c) {
		return aterrors.New(aterrors.KindPermission, "principal %s lacks %s", p.ID, c)
	}
	return nil
}
