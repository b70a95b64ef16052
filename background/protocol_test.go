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
	"os"
	"path/filepath"
	"testing"

	"github.com/claude-flow/v3/flowtypes"
)

func TestWriteJSONAtomicNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := writeJSONAtomic(path, statusDocument{Status: flowtypes.StatusProcessing}); err != nil {
		t.Fatalf("writeJSONAtomic failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file still exists after rename: %v", err)
	}

	var got statusDocument
	if err := readJSON(path, &got); err != nil {
		t.Fatalf("readJSON failed: %v", err)
	}
	if got.Status != flowtypes.StatusProcessing {
		t.Fatalf("Status = %v, want Processing", got.Status)
	}
}

func TestWriteJSONAtomicOverwritesPreviousDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	_ = writeJSONAtomic(path, statusDocument{Status: flowtypes.StatusProcessing})
	_ = writeJSONAtomic(path, statusDocument{Status: flowtypes.StatusCompleted})

	var got statusDocument
	if err := readJSON(path, &got); err != nil {
		t.Fatalf("readJSON failed: %v", err)
	}
	if got.Status != flowtypes.StatusCompleted {
		t.Fatalf("Status = %v, want Completed after overwrite", got.Status)
	}
}

func TestCleanupJobFilesRemovesAllThree(t *testing.T) {
	dir := t.TempDir()
	id := "job-1"

	for _, p := range []string{requestPath(dir, id), statusPath(dir, id), outputPath(dir, id)} {
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("setup write %s failed: %v", p, err)
		}
	}

	cleanupJobFiles(dir, id)

	for _, p := range []string{requestPath(dir, id), statusPath(dir, id), outputPath(dir, id)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists after cleanup", p)
		}
	}
}

func TestCleanupJobFilesIgnoresMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cleanupJobFiles(dir, "never-existed")
}
