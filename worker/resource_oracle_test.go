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

package worker

import (
	"os"
	"testing"
)

func TestProcResourceOracle_CPULoad(t *testing.T) {
	if _, err := os.Stat("/proc/loadavg"); err != nil {
		t.Skip("/proc/loadavg not available on this platform")
	}
	o := NewProcResourceOracle()
	load, err := o.CPULoad()
	if err != nil {
		t.Fatalf("CPULoad failed: %v", err)
	}
	if load < 0 {
		t.Fatalf("CPULoad = %v, want >= 0", load)
	}
}

func TestProcResourceOracle_FreeMemoryPercent(t *testing.T) {
	if _, err := os.Stat("/proc/meminfo"); err != nil {
		t.Skip("/proc/meminfo not available on this platform")
	}
	o := NewProcResourceOracle()
	pct, err := o.FreeMemoryPercent()
	if err != nil {
		t.Fatalf("FreeMemoryPercent failed: %v", err)
	}
	if pct < 0 || pct > 100 {
		t.Fatalf("FreeMemoryPercent = %v, want in [0, 100]", pct)
	}
}
