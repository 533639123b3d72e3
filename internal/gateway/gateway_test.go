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

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyCheckRoundTrip(t *testing.T) {
	var got CheckRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/check", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Decision{Allow: false, Reasons: []string{"not the owner"}})
	}))
	defer server.Close()

	decision, err := NewPolicyClient(server.URL).Check(context.Background(), &CheckRequest{
		Scope:    "task:export",
		Actor:    "user:7",
		Resource: map[string]any{"task_id": 3},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, []string{"not the owner"}, decision.Reasons)
	assert.Equal(t, "task:export", got.Scope)
}

func TestPolicyFilterExpressionEval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/filter", r.URL.Path)
		// owner == u1 OR (org == acme AND NOT subset == hidden)
		_, _ = w.Write([]byte(`{
			"op": "|",
			"args": [
				{"field": "owner", "value": "u1"},
				{"op": "&", "args": [
					{"field": "org", "value": "acme"},
					{"op": "~", "args": [{"field": "subset", "value": "hidden"}]}
				]}
			]
		}`))
	}))
	defer server.Close()

	expr, err := NewPolicyClient(server.URL).Filter(context.Background(), "task:list", "user:u1")
	require.NoError(t, err)

	assert.True(t, expr.Eval(map[string]string{"owner": "u1"}))
	assert.True(t, expr.Eval(map[string]string{"owner": "u2", "org": "acme"}))
	assert.False(t, expr.Eval(map[string]string{"owner": "u2", "org": "acme", "subset": "hidden"}))
	assert.False(t, expr.Eval(map[string]string{"owner": "u2", "org": "other"}))
}

func TestExprNilAndMalformedNodes(t *testing.T) {
	var nilExpr *Expr
	assert.True(t, nilExpr.Eval(nil))

	malformed := &Expr{Op: OpNot} // negation without an operand
	assert.False(t, malformed.Eval(nil))

	unknown := &Expr{Op: "^"}
	assert.False(t, unknown.Eval(nil))
}

func TestLimitStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(LimitStatus{Used: 10, Max: 10})
	}))
	defer server.Close()

	status, err := NewLimitClient(server.URL).GetStatus(context.Background(), "tasks", map[string]any{"owner": "u1"})
	require.NoError(t, err)
	assert.True(t, status.Exceeded())
	assert.False(t, LimitStatus{Used: 3, Max: 10}.Exceeded())
	assert.False(t, LimitStatus{Used: 100, Max: 0}.Exceeded())
}
