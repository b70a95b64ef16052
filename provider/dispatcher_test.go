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

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

func TestDispatcher_RoutesToOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(newFakeRegistry())
	cfg := flowtypes.ProviderConfig{Name: "local", Type: flowtypes.ProviderTypeOllama, Endpoint: server.URL}
	if err := d.HealthCheck(context.Background(), cfg); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}

func TestDispatcher_UnknownProviderType(t *testing.T) {
	d := NewDispatcher(newFakeRegistry())
	cfg := flowtypes.ProviderConfig{Name: "mystery", Type: "not-a-real-type"}

	err := d.HealthCheck(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
	if errkind.KindOf(err) != errkind.Configuration {
		t.Fatalf("KindOf = %v, want Configuration", errkind.KindOf(err))
	}

	_, err = d.Send(context.Background(), flowtypes.HandoffRequest{ID: "req-1"}, cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider type on Send")
	}
}
