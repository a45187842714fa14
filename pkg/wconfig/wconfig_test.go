package wconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wiidisc/wiidisc/pkg/compose"
	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
)

func TestNewAppliesDefaultsWithoutOptions(t *testing.T) {
	t.Setenv(EnvWBFS, "")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, int64(compose.DefaultPartitionOffset), c.Defaults.PartitionOffset)
	require.Equal(t, wbfs.PolicyAuto, c.Defaults.AllocPolicy)
	require.Equal(t, compose.Sign, c.Defaults.EncodeFlags)
	require.NotNil(t, c.Log)
	require.NotNil(t, c.Cancel)
	require.Nil(t, c.Cancel())
}

func TestNewSplitsWBFSPath(t *testing.T) {
	t.Setenv(EnvWBFS, "/mnt/a;/mnt/b; /mnt/c ;")

	c, err := New()
	require.NoError(t, err)
	require.Equal(t, []string{"/mnt/a", "/mnt/b", "/mnt/c"}, c.WBFSPath)
}

func TestWithKeysInstallsTable(t *testing.T) {
	keys := disc.CommonKeys{0: {1, 2, 3}}
	c, err := New(WithKeys(keys))
	require.NoError(t, err)
	require.Equal(t, keys, c.Keys)
}

func TestSplitWBFSPathEmpty(t *testing.T) {
	require.Nil(t, splitWBFSPath(""))
}
