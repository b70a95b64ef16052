// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errkind classifies errors crossing component boundaries into the
// taxonomy used for retry and failure-reporting decisions: transient
// provider errors, configuration errors, protocol errors, resource
// refusals, storage errors, cancellations and invariant violations. The
// classification is carried by wrapping a sentinel Kind with the
// underlying error rather than by introducing an exception hierarchy.
package errkind

import "errors"

// Kind is one taxonomy bucket from the error-handling design.
type Kind int

const (
	// Unknown is the zero value; treated as non-retryable by IsTransient.
	Unknown Kind = iota
	// Transient covers network errors, timeouts, 5xx responses and
	// rate-limited responses from a provider. Retryable with backoff.
	Transient
	// Configuration covers missing API keys, unknown provider types and
	// unknown worker types. Always terminal.
	Configuration
	// Protocol covers malformed provider responses. Retryable up to half
	// of maxRetries, then terminal.
	Protocol
	// ResourceRefusal covers an open breaker, an exceeded rate limit, or a
	// blocked admission gate.
	ResourceRefusal
	// Storage covers a persistent-store write failure. Non-fatal; the
	// store keeps operating from memory and retries on the next flush.
	Storage
	// Cancellation covers user- or shutdown-triggered cancellation. Never
	// retried.
	Cancellation
	// Invariant covers a broken internal invariant (e.g. a token-counter
	// mismatch). Fatal to the owning component.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case Protocol:
		return "protocol"
	case ResourceRefusal:
		return "resource_refusal"
	case Storage:
		return "storage"
	case Cancellation:
		return "cancellation"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// classified wraps an error with its Kind so it can travel through a plain
// error return while still being inspected by IsTransient/KindOf.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.kind.String() + ": " + c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// KindOf extracts the Kind tagged onto err, or Unknown if err was never
// classified.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Unknown
}

// IsTransient reports whether err should be retried by the handoff
// manager's backoff loop: Transient always, Protocol only up to the
// caller's own attempt-counting (callers compare attempt < maxRetries/2
// themselves; IsTransient only tells them the kind allows any retry at
// all).
func IsTransient(err error) bool {
	switch KindOf(err) {
	case Transient, Protocol:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err should never be retried.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case Configuration, Cancellation, Invariant:
		return true
	default:
		return false
	}
}
