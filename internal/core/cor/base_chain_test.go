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

package cor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appendCommand struct {
	BaseCommand
	suffix string
	fail   error
}

func newAppendCommand(name, suffix string, fail error) *appendCommand {
	return &appendCommand{BaseCommand: *NewBaseCommand(name), suffix: suffix, fail: fail}
}

func (c *appendCommand) Execute(ctx Context) {
	if c.fail != nil {
		ctx.AddError(c.GetName(), c.fail)
		return
	}
	in, _ := ctx.Get(c.GetInputParam()).(string)
	ctx.Add(c.GetOutputParam(), in+c.suffix)
}

func TestChainPipesOutputToInput(t *testing.T) {
	chain := NewBaseChain("pipe-test")
	chain.AddCommand(newAppendCommand("first", "a", nil))
	chain.AddCommand(newAppendCommand("second", "b", nil))

	ctx := NewBaseContext()
	ctx.SetContext(context.Background())
	defer ctx.Close()
	ctx.Add(CtxIn, "x")

	chain.Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Equal(t, "xab", ctx.Get(CtxIn))
	assert.Nil(t, ctx.Get(CtxOut))
}

func TestChainStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	chain := NewBaseChain("stop-test")
	chain.AddCommand(newAppendCommand("first", "a", boom))
	chain.AddCommand(newAppendCommand("second", "b", nil))

	ctx := NewBaseContext()
	ctx.SetContext(context.Background())
	defer ctx.Close()
	ctx.Add(CtxIn, "x")

	chain.Execute(ctx)

	require.True(t, ctx.HasErrors())
	assert.ErrorIs(t, ctx.GetErrors()["first"], boom)
	// The second command never ran, so the input was not advanced past "x".
	assert.NotEqual(t, "xb", ctx.Get(CtxIn))
}

func TestChainPublishesProgress(t *testing.T) {
	chain := NewBaseChain("progress-test")
	chain.AddCommand(newAppendCommand("first", "a", nil))
	chain.AddCommand(newAppendCommand("second", "b", nil))

	sink := make(chan ProgressEvent, 8)
	ctx := NewBaseContext()
	ctx.SetContext(context.Background())
	defer ctx.Close()
	ctx.SetProgressSink(sink)
	ctx.Add(CtxIn, "")

	chain.Execute(ctx)
	close(sink)

	var events []ProgressEvent
	for ev := range sink {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Stage)
	assert.InDelta(t, 0.5, events[0].Fraction, 1e-9)
	assert.InDelta(t, 1.0, events[1].Fraction, 1e-9)
}

func TestPublishWithoutSinkDoesNotBlock(t *testing.T) {
	ctx := NewBaseContext()
	ctx.Publish(ProgressEvent{Stage: "noop"})

	// A full sink drops the event instead of blocking the pipeline.
	full := make(chan ProgressEvent, 1)
	full <- ProgressEvent{Stage: "old"}
	ctx.SetProgressSink(full)
	ctx.Publish(ProgressEvent{Stage: "new"})
	assert.Equal(t, "old", (<-full).Stage)
}
