package util

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sourcequery-project/sourcequery/internal/protocol"
	"github.com/sourcequery-project/sourcequery/internal/query"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMac     Platform = "mac"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin", "ios":
		return PlatformMac
	default:
		return PlatformUnknown
	}
}

// EnvironmentByte returns the A2S environment identifier. A non-empty
// override ("linux", "windows", "mac") wins over detection; unknown
// platforms report linux, the closest match for other unixes.
func EnvironmentByte(override string) byte {
	p := GetPlatform()
	if override != "" {
		p = Platform(strings.ToLower(override))
	}
	switch p {
	case PlatformWindows:
		return protocol.EnvWindows
	case PlatformMac:
		return protocol.EnvMac
	default:
		return protocol.EnvLinux
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
	BootTime     uint64   `json:"boot_time"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = strings.TrimSpace(fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion))
		info.BootTime = hostInfo.BootTime
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
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

// MemoryUsage holds system memory statistics.
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

// HostDiagnostics is the subset of host state published as query rules.
type HostDiagnostics struct {
	System      SystemInfo
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// CollectDiagnostics samples the host. Individual probe failures leave
// the corresponding value at zero.
func CollectDiagnostics(diskPath string) HostDiagnostics {
	d := HostDiagnostics{System: GetSystemInfo()}
	if v, err := GetCPUUsage(); err == nil {
		d.CPUPercent = v
	}
	if m, err := GetMemoryUsage(); err == nil {
		d.MemPercent = m.UsedPercent
	}
	if u, err := GetDiskUsage(diskPath); err == nil {
		d.DiskPercent = u.UsedPercent
	}
	return d
}

// Rules renders the diagnostics as rule pairs.
func (d HostDiagnostics) Rules() []query.Rule {
	pct := func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
	return []query.Rule{
		{Name: "host_os", Value: d.System.OS},
		{Name: "host_arch", Value: d.System.Architecture},
		{Name: "host_cpu_model", Value: d.System.CPUModel},
		{Name: "host_cpu_cores", Value: strconv.Itoa(d.System.CPUCores)},
		{Name: "host_memory_mb", Value: strconv.FormatUint(d.System.TotalMemory, 10)},
		{Name: "host_cpu_percent", Value: pct(d.CPUPercent)},
		{Name: "host_memory_percent", Value: pct(d.MemPercent)},
		{Name: "host_disk_percent", Value: pct(d.DiskPercent)},
	}
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
