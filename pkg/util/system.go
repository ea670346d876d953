package util

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Host identifies the machine a run was made on.
type Host struct {
	Name     string
	Platform string
	Kernel   string
	BootTime time.Time
}

// hostInfo is replaced in tests.
var hostInfo = host.InfoWithContext

// HostInfo describes the local machine. nodeName, when set, overrides the
// hostname reported by the system.
func HostInfo(ctx context.Context, nodeName string) (Host, error) {
	info, err := hostInfo(ctx)
	if err != nil {
		return Host{Name: fallbackName(nodeName)}, fmt.Errorf("failed to read host info: %w", err)
	}

	h := Host{
		Name:     info.Hostname,
		Platform: platformString(info.Platform, info.PlatformVersion),
		Kernel:   info.KernelVersion,
	}
	if nodeName != "" {
		h.Name = nodeName
	}
	if info.BootTime > 0 {
		h.BootTime = time.Unix(int64(info.BootTime), 0)
	}
	return h, nil
}

func platformString(platform, version string) string {
	return strings.TrimSpace(platform + " " + version)
}

func fallbackName(nodeName string) string {
	if nodeName != "" {
		return nodeName
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}
