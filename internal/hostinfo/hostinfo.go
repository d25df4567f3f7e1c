// Package hostinfo describes the machine the probe runs on.
package hostinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

// Info identifies the host in API payloads and command output.
type Info struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
}

// Collect reads host details from the operating system.
func Collect(ctx context.Context) (Info, error) {
	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("read host info: %w", err)
	}
	return Info{
		Hostname:        stat.Hostname,
		OS:              stat.OS,
		Platform:        stat.Platform,
		PlatformVersion: stat.PlatformVersion,
		KernelVersion:   stat.KernelVersion,
		KernelArch:      stat.KernelArch,
	}, nil
}

// String renders a one-line summary.
func (i Info) String() string {
	if i.Platform != "" {
		return fmt.Sprintf("%s (%s %s, kernel %s %s)", i.Hostname, i.Platform, i.PlatformVersion, i.KernelVersion, i.KernelArch)
	}
	return fmt.Sprintf("%s (%s, kernel %s %s)", i.Hostname, i.OS, i.KernelVersion, i.KernelArch)
}
