package node

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuesync/cuesync-go/pkg/config"
)

func TestPeerList(t *testing.T) {
	var peers PeerList
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&peers, "peer", "")

	require.NoError(t, fs.Parse([]string{"-peer", "a=10.0.0.1:7400", "-peer", "b=host:1"}))
	assert.Equal(t, PeerList{
		{ID: "a", Addr: "10.0.0.1:7400"},
		{ID: "b", Addr: "host:1"},
	}, peers)
	assert.Equal(t, "a=10.0.0.1:7400,b=host:1", peers.String())

	for _, bad := range []string{"a", "=x", "a="} {
		assert.Error(t, peers.Set(bad), bad)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: parent\nid: p1\n"), 0o600))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "p1", cfg.ID)
	assert.Equal(t, config.RoleParent, cfg.Role)
}
