package fingerprint

import (
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	gnet "github.com/shirou/gopsutil/v3/net"
)

// systemSource reads live interface and host data.
type systemSource struct{}

// System returns the Source backed by the running operating system.
func System() Source {
	return systemSource{}
}

// Entries lists one entry per interface address, in the order the OS
// enumerates them. Loopback interfaces are marked internal.
func (systemSource) Entries() ([]Entry, error) {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, iface := range ifaces {
		internal := hasFlag(iface.Flags, "loopback")
		for _, addr := range iface.Addrs {
			entries = append(entries, Entry{
				Interface: iface.Name,
				Address:   addr.Addr,
				MAC:       iface.HardwareAddr,
				Internal:  internal,
			})
		}
	}
	return entries, nil
}

func (systemSource) Hostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	if info, err := host.Info(); err == nil {
		return info.Hostname
	}
	return ""
}

func (systemSource) Platform() string {
	return Platform()
}

// Platform returns the platform identifier reported to the dashboard.
// Windows is reported as win32; everything else uses the GOOS name.
func Platform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// HostDetails is descriptive host metadata shown next to the fingerprint.
// It does not feed the machine id.
type HostDetails struct {
	OSName string
	Kernel string
	Arch   string
}

// DescribeHost retrieves OS name, kernel version and architecture.
func DescribeHost() HostDetails {
	d := HostDetails{Arch: runtime.GOARCH}

	hostInfo, err := host.Info()
	if err == nil {
		d.OSName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			d.OSName += " " + hostInfo.PlatformVersion
		}
		d.Kernel = hostInfo.KernelVersion
	} else {
		d.OSName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName("/etc/os-release"); prettyName != "" {
			d.OSName = prettyName
		}
	}
	return d
}

// readOSReleasePrettyName parses an os-release file for the PRETTY_NAME field.
func readOSReleasePrettyName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}
