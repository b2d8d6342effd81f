package gflags

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUniverse() *types.Universe {
	intent := &types.UserIntent{
		ProviderType:      types.ProviderAWS,
		InstanceType:      "m5.large",
		ReplicationFactor: 3,
		NumNodes:          3,
		EnableYSQL:        true,
		EnableYCQL:        true,
		DeviceInfo:        &types.DeviceInfo{VolumeSize: 250, NumVolumes: 2, StorageType: types.StorageGP3},
		MasterGFlags:      map[string]string{"max_log_size": "256"},
		TServerGFlags:     map[string]string{"ysql_max_connections": "300"},
	}
	u := &types.Universe{
		UUID: "u1",
		Clusters: []*types.Cluster{
			{UUID: "c1", Type: types.ClusterTypePrimary, UserIntent: intent},
		},
	}
	for i := 0; i < 3; i++ {
		u.Nodes = append(u.Nodes, &types.NodeDetails{
			Name:        fmt.Sprintf("n%d", i+1),
			ClusterUUID: "c1",
			AZUUID:      fmt.Sprintf("az%d", i+1),
			Cloud:       "aws",
			Region:      "us-west-2",
			Zone:        fmt.Sprintf("us-west-2%c", 'a'+i),
			IsMaster:    true,
			IsTserver:   true,
			PrivateIP:   fmt.Sprintf("10.0.0.%d", i+1),
			Ports:       types.DefaultNodePorts(),
			State:       types.NodeStateLive,
		})
	}
	return u
}

func tokens(csv string) []string {
	out := splitCSV(csv)
	sort.Strings(out)
	return out
}

func TestMergeCSVIsUnion(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		platform string
		want     []string
	}{
		{"disjoint", "a,b", "c", []string{"a", "b", "c"}},
		{"overlap", "a, b", "b,c", []string{"a", "b", "c"}},
		{"duplicates inside input", "a,a", "a", []string{"a"}},
		{"empty user", "", "x,y", []string{"x", "y"}},
		{"empty both", "", "", nil},
		{"quoted tokens", `"host all all 0.0.0.0/0 md5,trust",local`, "local", []string{"host all all 0.0.0.0/0 md5,trust", "local"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := map[string]string{Undefok: tt.user}
			platform := map[string]string{Undefok: tt.platform}

			got := MergeCSV(user, platform, Undefok)
			assert.Equal(t, tt.want, tokens(got))

			// order independent
			swapped := MergeCSV(platform, user, Undefok)
			assert.Equal(t, tokens(got), tokens(swapped))
		})
	}
}

func TestMergeUserFlags(t *testing.T) {
	platform := map[string]string{
		PlacementCloud: "aws",
		Undefok:        "enable_ysql",
		"log_dir":      "/var/log",
	}
	user := map[string]string{
		PlacementCloud: "gcp",
		Undefok:        "foo",
		"log_dir":      "/data/log",
		"new_flag":     "1",
	}

	merged := MergeUserFlags(user, platform, false)
	assert.Equal(t, "aws", merged[PlacementCloud], "forbidden flag keeps platform value")
	assert.Equal(t, []string{"enable_ysql", "foo"}, tokens(merged[Undefok]))
	assert.Equal(t, "/data/log", merged["log_dir"])
	assert.Equal(t, "1", merged["new_flag"])

	merged = MergeUserFlags(user, platform, true)
	assert.Equal(t, "gcp", merged[PlacementCloud], "override allowed")

	// inputs are not mutated
	assert.Equal(t, "aws", platform[PlacementCloud])
}

func TestCheckConsistency(t *testing.T) {
	tests := []struct {
		name    string
		master  map[string]string
		tserver map[string]string
		wantErr bool
	}{
		{"both absent", map[string]string{}, map[string]string{}, false},
		{"only master", map[string]string{EnableYSQLAuth: "true"}, map[string]string{}, false},
		{"same value", map[string]string{EnableYSQLAuth: "true"}, map[string]string{EnableYSQLAuth: "true"}, false},
		{"case and space", map[string]string{EnableYSQLAuth: " TRUE"}, map[string]string{EnableYSQLAuth: "true "}, false},
		{"differ", map[string]string{UseNodeToNodeEncryption: "true"}, map[string]string{UseNodeToNodeEncryption: "false"}, true},
		{"non mirrored may differ", map[string]string{"log_dir": "a"}, map[string]string{"log_dir": "b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConsistency(tt.master, tt.tserver)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apierr.IsBadRequest(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSyncFlagsToIntent(t *testing.T) {
	intent := &types.UserIntent{EnableYCQL: true, EnableYSQLAuth: false}
	flags := map[string]string{StartCQLProxy: "false", EnableYSQLAuth: "True", "unrelated": "x"}

	changed, err := SyncFlagsToIntent(flags, intent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, intent.EnableYCQL)
	assert.True(t, intent.EnableYSQLAuth)

	changed, err = SyncFlagsToIntent(flags, intent)
	require.NoError(t, err)
	assert.False(t, changed, "second application is a no-op")

	_, err = SyncFlagsToIntent(map[string]string{StartCQLProxy: "maybe"}, intent)
	require.Error(t, err)
	assert.True(t, apierr.IsBadRequest(err))
}

func TestSyncProcessFlagsToIntentRejectsInconsistency(t *testing.T) {
	intent := &types.UserIntent{}
	_, err := SyncProcessFlagsToIntent(
		map[string]string{EnableYSQL: "true"},
		map[string]string{EnableYSQL: "false"},
		intent)
	require.Error(t, err)
	assert.False(t, intent.EnableYSQL)
}

func TestComputeDefaults(t *testing.T) {
	u := testUniverse()
	cluster := u.PrimaryCluster()
	node := u.Node("n2")

	master := ComputeDefaults(node, u, cluster, types.ServerMaster)
	assert.Equal(t, "10.0.0.1:7100,10.0.0.2:7100,10.0.0.3:7100", master[MasterAddresses])
	assert.Equal(t, "10.0.0.2:7100", master[RPCBindAddresses])
	assert.Equal(t, "3", master[ReplicationFactor])
	assert.Equal(t, "u1", master[ClusterUUID])
	assert.Equal(t, "/mnt/d0,/mnt/d1", master[FSDataDirs])
	assert.NotContains(t, master, StartCQLProxy)

	tserver := ComputeDefaults(node, u, cluster, types.ServerTServer)
	assert.Equal(t, master[MasterAddresses], tserver[TServerMasterAddrs])
	assert.Equal(t, "10.0.0.2:9100", tserver[RPCBindAddresses])
	assert.Equal(t, "true", tserver[StartCQLProxy])
	assert.Equal(t, "10.0.0.2:9042", tserver[CQLProxyBindAddress])
	assert.Equal(t, "10.0.0.2:5433", tserver[PgsqlProxyBindAddress])
	assert.NotContains(t, tserver, CertsDir)

	cluster.UserIntent.EnableNodeToNodeEncrypt = true
	cluster.UserIntent.EnableClientToNodeEncrypt = true
	tserver = ComputeDefaults(node, u, cluster, types.ServerTServer)
	assert.Equal(t, DefaultCertsDir, tserver[CertsDir])
	assert.Equal(t, DefaultClientCertsDir, tserver[CertsForClientDir])
	assert.Equal(t, "false", tserver[AllowInsecureConnections])

	assert.Equal(t, ComputeDefaults(node, u, cluster, types.ServerMaster),
		ComputeDefaults(node, u, cluster, types.ServerMaster), "deterministic")
}

func TestUserFlagsResolution(t *testing.T) {
	u := testUniverse()
	primary := u.PrimaryCluster()
	node := u.Node("n1")

	flags, err := UserFlags(u, primary, node, types.ServerMaster)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"max_log_size": "256"}, flags)

	// specific flags take precedence, per-AZ overrides apply to that AZ only
	primary.UserIntent.SpecificGFlags = types.NewSpecificGFlags(
		map[string]string{"max_log_size": "512"},
		map[string]string{"ysql_max_connections": "400"})
	primary.UserIntent.SpecificGFlags.PerAZ = map[string]*types.PerProcessFlags{
		"az1": {Value: map[types.ServerType]map[string]string{types.ServerTServer: {"ysql_max_connections": "500"}}},
	}

	flags, err = UserFlags(u, primary, node, types.ServerTServer)
	require.NoError(t, err)
	assert.Equal(t, "500", flags["ysql_max_connections"])

	flags, err = UserFlags(u, primary, u.Node("n2"), types.ServerTServer)
	require.NoError(t, err)
	assert.Equal(t, "400", flags["ysql_max_connections"])

	// read replica inherits from the primary
	replica := &types.Cluster{UUID: "rr", Type: types.ClusterTypeAsync, UserIntent: &types.UserIntent{
		SpecificGFlags: &types.SpecificGFlags{InheritFromPrimary: true},
		TServerGFlags:  map[string]string{"ignored": "1"},
	}}
	u.Clusters = append(u.Clusters, replica)
	flags, err = UserFlags(u, replica, &types.NodeDetails{AZUUID: "az2"}, types.ServerTServer)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ysql_max_connections": "400"}, flags)

	// the primary may not inherit
	primary.UserIntent.SpecificGFlags.InheritFromPrimary = true
	_, err = UserFlags(u, replica, node, types.ServerTServer)
	require.Error(t, err)
	assert.True(t, apierr.IsIllegalState(err))

	_, err = UserFlags(u, primary, node, types.ServerTServer)
	require.Error(t, err)
	assert.True(t, apierr.IsIllegalState(err))
}

func TestEffectiveFlagsDropForbiddenUserFlags(t *testing.T) {
	u := testUniverse()
	primary := u.PrimaryCluster()
	primary.UserIntent.TServerGFlags[RPCBindAddresses] = "0.0.0.0:9100"
	primary.UserIntent.TServerGFlags[Undefok] = "my_flag"

	flags, err := EffectiveFlags(u, primary, u.Node("n1"), types.ServerTServer)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9100", flags[RPCBindAddresses])
	assert.Equal(t, "my_flag", flags[Undefok])
	assert.Equal(t, "300", flags["ysql_max_connections"])
	assert.True(t, strings.HasPrefix(flags[TServerMasterAddrs], "10.0.0.1:7100"))
}
