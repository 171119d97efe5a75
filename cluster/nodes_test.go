package cluster_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs/jobstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNodes(t *testing.T) {
	ids := jobstest.IDs(jobstest.NewNodes(t, 2))
	dir := t.TempDir()

	write := func(name string, nodes []interfaces.NodeAddress) string {
		data, err := json.Marshal(nodes)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	nodes, err := cluster.LoadNodes(write("valid.json", []interfaces.NodeAddress{
		{ID: ids[0], Address: "127.0.0.1:8080"},
		{ID: ids[1], Address: "127.0.0.1:8081"},
	}))
	require.NoError(t, err)
	assert.Equal(t, ids, cluster.NodeIDs(nodes))

	_, err = cluster.LoadNodes(write("dup.json", []interfaces.NodeAddress{
		{ID: ids[0], Address: "127.0.0.1:8080"},
		{ID: ids[0], Address: "127.0.0.1:8081"},
	}))
	assert.Error(t, err)

	_, err = cluster.LoadNodes(write("noaddr.json", []interfaces.NodeAddress{{ID: ids[0]}}))
	assert.Error(t, err)

	_, err = cluster.LoadNodes(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
