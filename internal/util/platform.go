package util

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"go_version"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	BootTime     uint64 `json:"boot_time"`
}

// GetSystemInfo gathers static host information. Fields gopsutil cannot read
// on this platform are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.BootTime = hostInfo.BootTime
	} else {
		info.OS = runtime.GOOS
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// HostStats is a point-in-time resource snapshot for the status endpoint and
// the console.
type HostStats struct {
	CPUPercent     float64      `json:"cpu_percent"`
	Memory         *MemoryUsage `json:"memory,omitempty"`
	Disk           *DiskUsage   `json:"disk,omitempty"`
	ProcessRSSMB   uint64       `json:"process_rss_mb"`
	Goroutines     int          `json:"goroutines"`
	CollectedAt    time.Time    `json:"collected_at"`
	ProcessThreads int32        `json:"process_threads"`
}

// CollectHostStats samples CPU, memory, the disk holding dataPath and this
// process. Failed probes leave their fields zero.
func CollectHostStats(dataPath string) HostStats {
	stats := HostStats{
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
	}
	if cpuPct, err := GetCPUUsage(); err == nil {
		stats.CPUPercent = cpuPct
	}
	if memUsage, err := GetMemoryUsage(); err == nil {
		stats.Memory = memUsage
	}
	if dataPath != "" {
		if du, err := GetDiskUsage(dataPath); err == nil {
			stats.Disk = du
		}
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			stats.ProcessRSSMB = mi.RSS / (1024 * 1024)
		}
		if n, err := p.NumThreads(); err == nil {
			stats.ProcessThreads = n
		}
	}
	return stats
}

// GetLocalIP returns the primary non-loopback IPv4 address.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}

// DiskUsage holds disk usage statistics for a path.
type DiskUsage struct {
	Total       uint64  `json:"total_gb"`
	Used        uint64  `json:"used_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage returns disk usage for the specified path.
func GetDiskUsage(path string) (*DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}

	return &DiskUsage{
		Total:       usage.Total / (1024 * 1024 * 1024),
		Used:        usage.Used / (1024 * 1024 * 1024),
		Free:        usage.Free / (1024 * 1024 * 1024),
		UsedPercent: usage.UsedPercent,
	}, nil
}

// GetCPUUsage returns the CPU usage percentage since the previous call.
func GetCPUUsage() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) > 0 {
		return percentages[0], nil
	}
	return 0, nil
}

// MemoryUsage holds system memory usage.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetMemoryUsage returns current system memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryUsage{
		Total:       memInfo.Total / (1024 * 1024),
		Used:        memInfo.Used / (1024 * 1024),
		Available:   memInfo.Available / (1024 * 1024),
		UsedPercent: memInfo.UsedPercent,
	}, nil
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
