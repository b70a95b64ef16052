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

package background

import (
	"context"
	"fmt"
	"testing"

	"github.com/claude-flow/v3/errkind"
	"github.com/claude-flow/v3/flowtypes"
)

type fakeDispatcher struct {
	resp flowtypes.HandoffResponse
	err  error
}

func (d *fakeDispatcher) HealthCheck(ctx context.Context, cfg flowtypes.ProviderConfig) error {
	return nil
}

func (d *fakeDispatcher) Send(ctx context.Context, req flowtypes.HandoffRequest, cfg flowtypes.ProviderConfig) (flowtypes.HandoffResponse, error) {
	if d.err != nil {
		return flowtypes.HandoffResponse{}, d.err
	}
	resp := d.resp
	resp.RequestID = req.ID
	resp.Provider = cfg.Name
	return resp, nil
}

func TestRunChild_WritesOutputAndStatusOnSuccess(t *testing.T) {
	dir := t.TempDir()
	envelope := requestEnvelope{
		Request:        flowtypes.HandoffRequest{ID: "job-1", Prompt: "hello"},
		ProviderConfig: flowtypes.ProviderConfig{Name: "primary"},
		TimeoutMs:      1000,
	}
	if err := writeJSONAtomic(requestPath(dir, "job-1"), envelope); err != nil {
		t.Fatalf("write request failed: %v", err)
	}

	dispatcher := &fakeDispatcher{resp: flowtypes.HandoffResponse{Status: flowtypes.StatusCompleted, Content: "hi there"}}
	if err := RunChild(context.Background(), dir, "job-1", dispatcher); err != nil {
		t.Fatalf("RunChild failed: %v", err)
	}

	var output flowtypes.HandoffResponse
	if err := readJSON(outputPath(dir, "job-1"), &output); err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	if output.Content != "hi there" {
		t.Fatalf("Content = %q, want %q", output.Content, "hi there")
	}

	var status statusDocument
	if err := readJSON(statusPath(dir, "job-1"), &status); err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	if status.Status != flowtypes.StatusCompleted {
		t.Fatalf("Status = %v, want Completed", status.Status)
	}
}

func TestRunChild_WritesFailedStatusOnAdapterError(t *testing.T) {
	dir := t.TempDir()
	envelope := requestEnvelope{
		Request:        flowtypes.HandoffRequest{ID: "job-2", Prompt: "hello"},
		ProviderConfig: flowtypes.ProviderConfig{Name: "primary"},
	}
	if err := writeJSONAtomic(requestPath(dir, "job-2"), envelope); err != nil {
		t.Fatalf("write request failed: %v", err)
	}

	dispatcher := &fakeDispatcher{err: errkind.Wrap(errkind.Transient, fmt.Errorf("network unreachable"))}
	if err := RunChild(context.Background(), dir, "job-2", dispatcher); err != nil {
		t.Fatalf("RunChild failed: %v", err)
	}

	var status statusDocument
	if err := readJSON(statusPath(dir, "job-2"), &status); err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	if status.Status != flowtypes.StatusFailed {
		t.Fatalf("Status = %v, want Failed", status.Status)
	}

	var output flowtypes.HandoffResponse
	if err := readJSON(outputPath(dir, "job-2"), &output); err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	if output.Error == "" {
		t.Fatal("Error should be populated when the adapter fails")
	}
}

func TestRunChild_MissingRequestFileFails(t *testing.T) {
	dir := t.TempDir()
	err := RunChild(context.Background(), dir, "never-existed", &fakeDispatcher{})
	if err == nil {
		t.Fatal("expected error for missing request file")
	}
	if errkind.KindOf(err) != errkind.Storage {
		t.Fatalf("KindOf = %v, want Storage", errkind.KindOf(err))
	}
}
