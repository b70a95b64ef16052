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

package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// daemonLogHandler is an slog.Handler that renders one line per record
// in the exact shape spec.md §6 requires for {base}/logs/daemon.log:
// "[ISO-timestamp] [LEVEL] message", with any structured attributes and
// the active trace/span id (when present) appended as key=value pairs.
// Grounded on the teacher corpus's TracingHandler pattern of wrapping an
// inner handler to inject OpenTelemetry context into every record.
type daemonLogHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	json   bool
	attrs  []slog.Attr
	groups []string
}

func newDaemonLogHandler(w io.Writer, jsonAttrs bool) *daemonLogHandler {
	return &daemonLogHandler{mu: &sync.Mutex{}, w: w, json: jsonAttrs}
}

func (h *daemonLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *daemonLogHandler) Handle(ctx context.Context, record slog.Record) error {
	allAttrs := make([]slog.Attr, 0, len(h.attrs)+record.NumAttrs())
	allAttrs = append(allAttrs, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		allAttrs = append(allAttrs, a)
		return true
	})

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		allAttrs = append(allAttrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	line := fmt.Sprintf("[%s] [%s] %s", record.Time.Format("2006-01-02T15:04:05Z07:00"), record.Level.String(), record.Message)
	for _, a := range allAttrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	if err != nil {
		return fmt.Errorf("write daemon log line: %w", err)
	}
	return nil
}

func (h *daemonLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &daemonLogHandler{
		mu:     h.mu,
		w:      h.w,
		json:   h.json,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *daemonLogHandler) WithGroup(name string) slog.Handler {
	return &daemonLogHandler{
		mu:     h.mu,
		w:      h.w,
		json:   h.json,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

var _ slog.Handler = (*daemonLogHandler)(nil)
