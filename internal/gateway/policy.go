// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway holds the thin call contracts to the external policy and
// limit services. The semantics of the policy language live on the other
// side of the wire; this side only transports requests and decodes the
// decision or filter expression that comes back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CheckRequest is one authorization question.
type CheckRequest struct {
	Scope        string         `json:"scope"`
	Actor        string         `json:"actor"`
	Organization string         `json:"organization,omitempty"`
	Resource     map[string]any `json:"resource"`
}

// Decision is the policy service's answer. Reasons are advisory, for the
// caller's error message.
type Decision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
}

// PolicyClient talks to the authorization service.
type PolicyClient struct {
	baseURL string
	client  *http.Client
}

// NewPolicyClient creates a client against the given base url.
//
// Inputs:
//   - baseURL: the policy service root, no trailing slash.
//
// Outputs:
//   - A pointer to the policy client.
func NewPolicyClient(baseURL string) *PolicyClient {
	return &PolicyClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Check asks whether the actor may perform the scoped operation.
func (c *PolicyClient) Check(ctx context.Context, req *CheckRequest) (Decision, error) {
	var out Decision
	if err := c.post(ctx, "/check", req, &out); err != nil {
		return Decision{}, err
	}
	return out, nil
}

// Filter fetches the visibility expression for the actor and scope. The
// caller evaluates it locally against each candidate resource's fields.
func (c *PolicyClient) Filter(ctx context.Context, scope string, actor string) (*Expr, error) {
	req := &CheckRequest{Scope: scope, Actor: actor}
	out := &Expr{}
	if err := c.post(ctx, "/filter", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PolicyClient) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("policy service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Expression operators. A node is either an operator over Args or a leaf
// field-equality predicate.
const (
	OpAnd = "&"
	OpOr  = "|"
	OpNot = "~"
)

// Expr is one node of a filter expression tree.
type Expr struct {
	Op    string  `json:"op,omitempty"`
	Args  []*Expr `json:"args,omitempty"`
	Field string  `json:"field,omitempty"`
	Value string  `json:"value,omitempty"`
}

// Eval applies the expression to a resource's fields. An unknown operator
// or a malformed negation evaluates to false rather than erroring; a filter
// that cannot be understood must never widen visibility.
func (e *Expr) Eval(fields map[string]string) bool {
	if e == nil {
		return true
	}
	switch e.Op {
	case "":
		return fields[e.Field] == e.Value
	case OpAnd:
		for _, arg := range e.Args {
			if !arg.Eval(fields) {
				return false
			}
		}
		return true
	case OpOr:
		for _, arg := range e.Args {
			if arg.Eval(fields) {
				return true
			}
		}
		return false
	case OpNot:
		if len(e.Args) != 1 {
			return false
		}
		return !e.Args[0].Eval(fields)
	}
	return false
}
