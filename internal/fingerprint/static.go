package fingerprint

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Snapshot is a fixed set of fingerprint inputs. It satisfies Source and is
// used to reproduce a fingerprint from recorded interface data.
type Snapshot struct {
	Host       string  `toml:"hostname"`
	OSPlatform string  `toml:"platform"`
	Interfaces []Entry `toml:"entries"`
}

func (s Snapshot) Entries() ([]Entry, error) { return s.Interfaces, nil }
func (s Snapshot) Hostname() string          { return s.Host }
func (s Snapshot) Platform() string          { return s.OSPlatform }

// LoadSnapshot reads a TOML snapshot file.
//
//	hostname = "lab-07"
//	platform = "linux"
//
//	[[entries]]
//	  interface = "eth0"
//	  mac = "aa:bb:cc:dd:ee:ff"
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	snap := &Snapshot{}
	if err := toml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return snap, nil
}

// TakeSnapshot records the live system inputs so they can be replayed later.
func TakeSnapshot(src Source) Snapshot {
	entries, _ := src.Entries()
	return Snapshot{
		Host:       src.Hostname(),
		OSPlatform: src.Platform(),
		Interfaces: entries,
	}
}

// Marshal encodes the snapshot as TOML.
func (s Snapshot) Marshal() ([]byte, error) {
	return toml.Marshal(s)
}
