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

// Package cor (Chain of Responsibility) is the workflow engine behind the
// ingestion pipeline and the restore path. A workflow is a Chain of Commands
// that share a Context; each command reads its input from the context, does
// one unit of work, and writes its output back for the next command. This
// file defines the interfaces, so commands, chains and contexts stay
// interchangeable.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys the chain uses to pipe data between commands.
const (
	// CtxIn is the default key a command reads its primary input from. The
	// chain fills it with the previous command's output.
	CtxIn = "__IN__"
	// CtxOut is the default key a command writes its primary output to. The
	// chain picks it up and moves it to CtxIn for the next command.
	CtxOut = "__OUT__"
)

// Context is the shared state of one workflow execution. It carries data,
// errors, temporary files and progress events between commands.
type Context interface {
	// SetContext sets the standard Go context used for cancellation and
	// trace propagation.
	SetContext(context context.Context)

	// GetContext retrieves the standard Go context.
	GetContext() context.Context

	// Add stores a key-value pair. Returns the Context for chaining.
	Add(key string, value interface{}) Context

	// AddError records an error under the name of the command that hit it.
	AddError(key string, err error)

	// GetErrors returns every error collected so far, keyed by command name.
	GetErrors() map[string]error

	// Get retrieves a value by key, nil when absent.
	Get(key string) interface{}

	// Remove deletes a key-value pair.
	Remove(key string)

	// HasErrors reports whether any command has failed.
	HasErrors() bool

	// AddTempFile tracks a temporary file for cleanup in Close.
	AddTempFile(file string)

	// GetTempFiles returns every tracked temporary file path.
	GetTempFiles() []string

	// SetProgressSink attaches a channel that receives progress events.
	// Passing nil detaches it.
	SetProgressSink(sink chan<- ProgressEvent)

	// Publish sends a progress event to the sink without blocking. Events
	// are dropped when no sink is attached or the sink is full.
	Publish(event ProgressEvent)

	// Close removes every tracked temporary file. Defer it at workflow start.
	Close()
}

// Executable is anything with a core execution step.
type Executable interface {
	// Execute runs the business logic against the shared context.
	Execute(context Context)
}

// Command is an atomic, thread-safe unit of work, the building block of a
// workflow.
type Command interface {
	Executable

	// GetName returns the command's unique name for logs and telemetry.
	GetName() string

	// GetInputParam returns the context key this command reads its input from.
	GetInputParam() string

	// GetOutputParam returns the context key this command writes its output to.
	GetOutputParam() string

	// IsExecutable is the precondition check run before Execute.
	IsExecutable(context Context) bool

	// GetTracer returns the OpenTelemetry tracer for this command.
	GetTracer() trace.Tracer

	// GetMeter returns the OpenTelemetry meter for creating metrics.
	GetMeter() metric.Meter

	// GetSuccessCounter returns the counter incremented on success.
	GetSuccessCounter() metric.Int64Counter

	// GetErrorCounter returns the counter incremented on failure.
	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered sequence of commands. A Chain is itself a Command, so
// chains nest.
type Chain interface {
	Command

	// ContinueOnFailure selects whether the chain keeps running commands
	// after one of them records an error. Default is to stop.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the execution sequence.
	AddCommand(command Command) Chain
}
