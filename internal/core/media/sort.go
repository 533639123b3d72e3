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

// Package media classifies uploaded files, orders them deterministically and
// turns them into frame extractors and chunk artifacts. This file implements
// the four sorting methods. Every method is deterministic: the random order
// is seeded by the task id so the same task always shuffles the same way,
// which keeps chunk layouts reproducible across restores.
package media

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Sort returns a new slice holding files in the requested order. The
// predefined method keeps the caller's order untouched, so reconciliation
// against a manifest or job mapping can happen upstream.
func Sort(files []string, method model.SortingMethod, seed int64) ([]string, error) {
	out := append([]string(nil), files...)
	switch method {
	case model.SortLexicographical:
		sort.Strings(out)
	case model.SortNatural:
		sort.Slice(out, func(i, j int) bool { return naturalLess(out[i], out[j]) })
	case model.SortRandom:
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	case model.SortPredefined:
		// caller-supplied order is authoritative
	default:
		return nil, model.NewValidationError("unknown sorting method %q", method)
	}
	return out, nil
}

// naturalLess compares two names by alternating digit and non-digit runs, so
// "frame_2" sorts before "frame_10".
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aRun, aRest, aNum := nextRun(a)
		bRun, bRest, bNum := nextRun(b)
		if aNum && bNum {
			av, _ := strconv.ParseInt(aRun, 10, 64)
			bv, _ := strconv.ParseInt(bRun, 10, 64)
			if av != bv {
				return av < bv
			}
		} else if aRun != bRun {
			return aRun < bRun
		}
		a, b = aRest, bRest
	}
	return len(a) < len(b)
}

// nextRun splits off the leading run of digits or non-digits.
func nextRun(s string) (run string, rest string, numeric bool) {
	isDigit := func(r byte) bool { return r >= '0' && r <= '9' }
	numeric = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == numeric {
		i++
	}
	return s[:i], s[i:], numeric
}
