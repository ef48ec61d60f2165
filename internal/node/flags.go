package node

import (
	"fmt"
	"strings"

	"github.com/cuesync/cuesync-go/pkg/config"
)

// PeerList is a repeatable "id=addr" flag.
type PeerList []config.PeerAddr

// String returns the flag value.
func (l *PeerList) String() string {
	parts := make([]string, len(*l))
	for i, p := range *l {
		parts[i] = p.ID + "=" + p.Addr
	}
	return strings.Join(parts, ",")
}

// Set appends one "id=addr" entry.
func (l *PeerList) Set(s string) error {
	id, addr, ok := strings.Cut(s, "=")
	if !ok || id == "" || addr == "" {
		return fmt.Errorf("want id=addr, got %q", s)
	}
	*l = append(*l, config.PeerAddr{ID: id, Addr: addr})
	return nil
}

// LoadConfig reads and validates path, or returns the unvalidated defaults
// when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
