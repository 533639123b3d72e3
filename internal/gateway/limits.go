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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LimitStatus reports consumption against a capability's quota. A Max of
// zero means unlimited.
type LimitStatus struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// Exceeded reports whether the capability has no headroom left.
func (s LimitStatus) Exceeded() bool {
	return s.Max > 0 && s.Used >= s.Max
}

// LimitClient talks to the quota service. Bookkeeping happens on the other
// side; this client only reads the current status.
type LimitClient struct {
	baseURL string
	client  *http.Client
}

// NewLimitClient creates a client against the given base url.
func NewLimitClient(baseURL string) *LimitClient {
	return &LimitClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetStatus fetches the quota status of one capability for the given
// request parameters (owner, organization and similar).
func (c *LimitClient) GetStatus(ctx context.Context, capability string, params map[string]any) (LimitStatus, error) {
	payload := map[string]any{"capability": capability, "params": params}
	body, err := json.Marshal(payload)
	if err != nil {
		return LimitStatus{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/status", bytes.NewReader(body))
	if err != nil {
		return LimitStatus{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return LimitStatus{}, fmt.Errorf("limit service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return LimitStatus{}, fmt.Errorf("limit service returned status %d", resp.StatusCode)
	}
	var out LimitStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LimitStatus{}, err
	}
	return out, nil
}
