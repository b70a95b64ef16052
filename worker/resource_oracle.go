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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ResourceOracle reports system load so the daemon can defer work rather
// than contend with it (spec.md §4.10 step 2b).
type ResourceOracle interface {
	// CPULoad returns the 1-minute load average.
	CPULoad() (float64, error)
	// FreeMemoryPercent returns the percentage of physical memory
	// currently free, 0-100.
	FreeMemoryPercent() (float64, error)
}

// ProcResourceOracle reads /proc/loadavg and /proc/meminfo, the same
// sources `uptime`/`free` report from, with no external dependency.
type ProcResourceOracle struct{}

// NewProcResourceOracle returns a ResourceOracle backed by procfs.
func NewProcResourceOracle() *ProcResourceOracle { return &ProcResourceOracle{} }

// CPULoad reads the first field of /proc/loadavg.
func (ProcResourceOracle) CPULoad() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format: %q", data)
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse load average: %w", err)
	}
	return load, nil
}

// FreeMemoryPercent reads MemTotal/MemAvailable from /proc/meminfo and
// computes the free percentage. MemAvailable (not MemFree) is used since
// it already accounts for reclaimable cache, matching what `free -m`
// reports as "available".
func (ProcResourceOracle) FreeMemoryPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan /proc/meminfo: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("could not determine MemTotal from /proc/meminfo")
	}
	return (available / total) * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[1], 64)
	return v
}

var _ ResourceOracle = ProcResourceOracle{}
