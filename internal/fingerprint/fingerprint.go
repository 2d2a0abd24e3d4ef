// Package fingerprint derives a stable per-machine identifier from network
// interface enumeration and the host name.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"deskshell/internal/version"
)

// ZeroMAC is reported when no qualifying hardware address is found.
const ZeroMAC = "00:00:00:00:00:00"

// Separator joins allMacs entries.
const Separator = ","

// Storage keys, in delivery order.
const (
	KeyMachineName = "machineName"
	KeyMACAddress  = "macAddress"
	KeyMachineID   = "machineId"
	KeyAllMACs     = "allMacs"
	KeyOS          = "os"
	KeyFlag        = "flag"
	KeyAppVersion  = "appVersion"
)

// Coarse OS categories.
const (
	FlagWindows = "win"
	FlagMac     = "mac"
	FlagLinux   = "linux"
)

// MachineInfo is the fingerprint record handed to the dashboard page.
// It is built once per window and never mutated afterwards.
type MachineInfo struct {
	MachineName string `json:"machineName" msgpack:"machine_name"`
	MACAddress  string `json:"macAddress" msgpack:"mac_address"`
	MachineID   string `json:"machineId" msgpack:"machine_id"`
	AllMACs     string `json:"allMacs" msgpack:"all_macs"`
	OS          string `json:"os" msgpack:"os"`
	Flag        string `json:"flag" msgpack:"flag"`
	AppVersion  string `json:"appVersion" msgpack:"app_version"`
}

// Pair is a single storage key/value.
type Pair struct {
	Key   string
	Value string
}

// Pairs returns the record as ordered key/value pairs.
func (m MachineInfo) Pairs() []Pair {
	return []Pair{
		{KeyMachineName, m.MachineName},
		{KeyMACAddress, m.MACAddress},
		{KeyMachineID, m.MachineID},
		{KeyAllMACs, m.AllMACs},
		{KeyOS, m.OS},
		{KeyFlag, m.Flag},
		{KeyAppVersion, m.AppVersion},
	}
}

// Map returns the record keyed by storage key.
func (m MachineInfo) Map() map[string]string {
	out := make(map[string]string, 7)
	for _, p := range m.Pairs() {
		out[p.Key] = p.Value
	}
	return out
}

// Entry is one address entry of a network interface. An interface with
// several addresses yields several entries sharing the same MAC.
type Entry struct {
	Interface string `toml:"interface"`
	Address   string `toml:"address"`
	MAC       string `toml:"mac"`
	Internal  bool   `toml:"internal"`
}

// Source supplies the OS data a fingerprint is computed from.
type Source interface {
	Entries() ([]Entry, error)
	Hostname() string
	Platform() string
}

// Compute builds a MachineInfo from the given source. It never fails:
// missing data degrades to the zero MAC and empty strings.
func Compute(src Source) MachineInfo {
	entries, err := src.Entries()
	if err != nil {
		entries = nil
	}

	var macs []string
	primary := ""
	for _, e := range entries {
		mac, ok := qualifying(e)
		if !ok {
			continue
		}
		macs = append(macs, mac)
		if primary == "" {
			primary = mac
		}
	}
	if primary == "" {
		primary = ZeroMAC
	}

	hostname := src.Hostname()
	platform := src.Platform()

	return MachineInfo{
		MachineName: hostname,
		MACAddress:  primary,
		MachineID:   ID(primary, hostname),
		AllMACs:     strings.Join(macs, Separator),
		OS:          platform,
		Flag:        FlagFor(platform),
		AppVersion:  version.Build,
	}
}

// Collect computes a MachineInfo from the live system.
func Collect() MachineInfo {
	return Compute(System())
}

// ID returns the hex SHA-256 of "mac-hostname".
func ID(mac, hostname string) string {
	sum := sha256.Sum256([]byte(mac + "-" + hostname))
	return hex.EncodeToString(sum[:])
}

// FlagFor maps a platform identifier to win, mac or linux.
func FlagFor(platform string) string {
	switch platform {
	case "win32", "windows":
		return FlagWindows
	case "darwin":
		return FlagMac
	default:
		return FlagLinux
	}
}

// CanonicalMAC lowercases and colon-separates a hardware address. Input that
// does not parse is returned trimmed.
func CanonicalMAC(s string) string {
	s = strings.TrimSpace(s)
	if hw, err := net.ParseMAC(s); err == nil {
		return hw.String()
	}
	return s
}

func qualifying(e Entry) (string, bool) {
	mac := CanonicalMAC(e.MAC)
	if e.Internal || mac == "" || isZero(mac) {
		return "", false
	}
	return mac, true
}

func isZero(mac string) bool {
	for _, r := range mac {
		if r != '0' && r != ':' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
