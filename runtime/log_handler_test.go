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
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDaemonLogHandler_RendersMandatedLineFormat(t *testing.T) {
	var buf bytes.Buffer
	handler := newDaemonLogHandler(&buf, false)
	logger := slog.New(handler)

	logger.Info("worker scheduled", "workerType", "codebase-map")

	line := buf.String()
	if !strings.HasPrefix(line, "[") {
		t.Fatalf("expected line to start with a timestamp bracket, got %q", line)
	}
	if !strings.Contains(line, "] [INFO] worker scheduled") {
		t.Fatalf("expected level and message in mandated shape, got %q", line)
	}
	if !strings.Contains(line, "workerType=codebase-map") {
		t.Fatalf("expected attribute appended, got %q", line)
	}
}

func TestDaemonLogHandler_WithAttrsAppendsToEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	handler := newDaemonLogHandler(&buf, false)
	logger := slog.New(handler).With("component", "runtime")

	logger.Warn("slot pressure")

	if !strings.Contains(buf.String(), "component=runtime") {
		t.Fatalf("expected inherited attribute, got %q", buf.String())
	}
}

func TestDaemonLogHandler_EnabledAlwaysTrue(t *testing.T) {
	handler := newDaemonLogHandler(&bytes.Buffer{}, false)
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected handler to accept every level")
	}
}
