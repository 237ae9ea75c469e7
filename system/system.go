// Package system reports host and process resource usage.
package system

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a snapshot of resource usage.
type Stats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	ProcessRSSMB  float64 `json:"process_rss_mb"`
	Goroutines    int     `json:"goroutines"`
}

// GetCPUUsage returns the current CPU usage as a percentage
func GetCPUUsage() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("could not get CPU usage")
	}
	return percentages[0], nil
}

// GetMemoryUsage returns the current memory usage as a percentage
func GetMemoryUsage() (float64, error) {
	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return virtualMem.UsedPercent, nil
}

// GetProcessRSS returns the resident set size of this process in MiB.
func GetProcessRSS() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / 1024 / 1024, nil
}

// Snapshot collects every stat it can. Individual failures leave the field
// at zero; the first one is returned.
func Snapshot() (Stats, error) {
	s := Stats{Goroutines: runtime.NumGoroutine()}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	v, err := GetCPUUsage()
	keep(err)
	s.CPUPercent = v

	v, err = GetMemoryUsage()
	keep(err)
	s.MemoryPercent = v

	v, err = GetProcessRSS()
	keep(err)
	s.ProcessRSSMB = v

	return s, first
}
