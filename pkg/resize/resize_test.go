package resize

import (
	"context"
	"fmt"
	"testing"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/provider"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func gp3(size int, iops, throughput *int) *types.DeviceInfo {
	return &types.DeviceInfo{VolumeSize: size, NumVolumes: 1, StorageType: types.StorageGP3, DiskIOPS: iops, Throughput: throughput}
}

func TestDeviceChanged(t *testing.T) {
	tests := []struct {
		name     string
		current  *types.DeviceInfo
		desired  *types.DeviceInfo
		provider types.ProviderType
		force    bool
		want     bool
		wantErr  bool
	}{
		{name: "identical", current: gp3(100, nil, nil), desired: gp3(100, nil, nil), provider: types.ProviderAWS},
		{name: "identical forced", current: gp3(100, nil, nil), desired: gp3(100, nil, nil), provider: types.ProviderAWS, force: true, want: true},
		{name: "grow", current: gp3(100, nil, nil), desired: gp3(200, nil, nil), provider: types.ProviderAWS, want: true},
		{name: "shrink", current: gp3(200, nil, nil), desired: gp3(100, nil, nil), provider: types.ProviderAWS, wantErr: true},
		{name: "shrink forced", current: gp3(200, nil, nil), desired: gp3(100, nil, nil), provider: types.ProviderAWS, force: true, wantErr: true},
		{name: "iops in range", current: gp3(100, intPtr(3000), nil), desired: gp3(100, intPtr(6000), nil), provider: types.ProviderAWS, want: true},
		{name: "iops out of range", current: gp3(100, intPtr(3000), nil), desired: gp3(100, intPtr(20000), nil), provider: types.ProviderAWS, wantErr: true},
		{name: "throughput in range", current: gp3(100, nil, intPtr(125)), desired: gp3(100, nil, intPtr(500)), provider: types.ProviderAWS, want: true},
		{name: "throughput on gcp", current: gp3(100, nil, intPtr(125)), desired: gp3(100, nil, intPtr(500)), provider: types.ProviderGCP, wantErr: true},
		{name: "iops unchanged on other provider", current: gp3(100, intPtr(3000), nil), desired: gp3(200, intPtr(3000), nil), provider: types.ProviderGCP, want: true},
		{
			name:     "throughput on io1",
			current:  &types.DeviceInfo{VolumeSize: 100, NumVolumes: 1, StorageType: types.StorageIO1},
			desired:  &types.DeviceInfo{VolumeSize: 100, NumVolumes: 1, StorageType: types.StorageIO1, Throughput: intPtr(200)},
			provider: types.ProviderAWS,
			wantErr:  true,
		},
		{
			name:     "io2 iops",
			current:  &types.DeviceInfo{VolumeSize: 100, NumVolumes: 1, StorageType: types.StorageIO2, DiskIOPS: intPtr(1000)},
			desired:  &types.DeviceInfo{VolumeSize: 100, NumVolumes: 1, StorageType: types.StorageIO2, DiskIOPS: intPtr(100000)},
			provider: types.ProviderAWS,
			want:     true,
		},
		{name: "volume count change", current: gp3(100, nil, nil), desired: &types.DeviceInfo{VolumeSize: 100, NumVolumes: 2, StorageType: types.StorageGP3}, provider: types.ProviderAWS, wantErr: true},
		{name: "no desired device", current: gp3(100, nil, nil), desired: nil, provider: types.ProviderAWS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeviceChanged(tt.current, tt.desired, tt.provider, tt.force)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apierr.IsBadRequest(err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// For every pair of valid devices, a change is reported iff size, IOPS or throughput differ
func TestDeviceChangedIffFieldsDiffer(t *testing.T) {
	sizes := []int{100, 200}
	iops := []*int{nil, intPtr(3000), intPtr(4000)}
	throughputs := []*int{nil, intPtr(125), intPtr(250)}

	for _, s1 := range sizes {
		for _, s2 := range sizes {
			for _, i1 := range iops {
				for _, i2 := range iops {
					for _, t1 := range throughputs {
						for _, t2 := range throughputs {
							cur, des := gp3(s1, i1, t1), gp3(s2, i2, t2)
							got, err := DeviceChanged(cur, des, types.ProviderAWS, false)
							if s2 < s1 {
								assert.Error(t, err)
								continue
							}
							require.NoError(t, err)
							want := s1 != s2 || !equalPtr(i1, i2) || !equalPtr(t1, t2)
							assert.Equal(t, want, got, "size %d->%d", s1, s2)
						}
					}
				}
			}
		}
	}
}

func TestInstanceChanged(t *testing.T) {
	intent := &types.UserIntent{InstanceType: "m5.xlarge", MasterInstanceType: "m5.2xlarge", DedicatedNodes: true}
	node := &types.NodeDetails{InstanceType: "m5.xlarge"}

	assert.False(t, InstanceChanged(node, intent, types.ServerTServer, false))
	assert.True(t, InstanceChanged(node, intent, types.ServerTServer, true))
	assert.True(t, InstanceChanged(node, intent, types.ServerMaster, false))

	intent.DedicatedNodes = false
	assert.False(t, InstanceChanged(node, intent, types.ServerMaster, false), "master type applies only with dedicated nodes")
}

func awsCluster(instanceType string, device *types.DeviceInfo) *types.Cluster {
	return &types.Cluster{
		UUID: "c1",
		Type: types.ClusterTypePrimary,
		UserIntent: &types.UserIntent{
			ProviderType: types.ProviderAWS,
			InstanceType: instanceType,
			DeviceInfo:   device,
		},
	}
}

func TestCheckResizePossible(t *testing.T) {
	ctx := context.Background()
	catalog := provider.DefaultCatalog()

	tests := []struct {
		name    string
		cluster *types.Cluster
		desired func(*types.UserIntent)
		force   bool
		wantErr bool
	}{
		{name: "instance upgrade", cluster: awsCluster("m5.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.InstanceType = "m5.xlarge" }},
		{name: "unknown instance type", cluster: awsCluster("m5.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.InstanceType = "m5.galactic" }, wantErr: true},
		{name: "ephemeral current family", cluster: awsCluster("i3.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.InstanceType = "i3.xlarge" }, wantErr: true},
		{name: "ephemeral forced without change", cluster: awsCluster("i3.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) {}, force: true, wantErr: true},
		{name: "ephemeral untouched", cluster: awsCluster("i3.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) {}},
		{name: "to ephemeral family", cluster: awsCluster("m5.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.InstanceType = "c5d.xlarge" }, wantErr: true},
		{name: "dedicated toggled", cluster: awsCluster("m5.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.DedicatedNodes = true }, wantErr: true},
		{name: "disk shrink", cluster: awsCluster("m5.large", gp3(100, nil, nil)),
			desired: func(i *types.UserIntent) { i.DeviceInfo.VolumeSize = 50 }, wantErr: true},
		{name: "unsupported provider", cluster: func() *types.Cluster {
			c := awsCluster("m5.large", gp3(100, nil, nil))
			c.UserIntent.ProviderType = types.ProviderKubernetes
			return c
		}(), desired: func(i *types.UserIntent) { i.InstanceType = "m5.xlarge" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desired := tt.cluster.UserIntent.Clone()
			tt.desired(desired)
			err := CheckResizePossible(ctx, tt.cluster, desired, catalog, tt.force)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apierr.IsBadRequest(err), err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecidePartitionsNodes(t *testing.T) {
	master := types.ServerMaster
	tserver := types.ServerTServer
	cluster := awsCluster("m5.large", gp3(100, nil, nil))
	cluster.UserIntent.DedicatedNodes = true
	cluster.UserIntent.MasterInstanceType = "m5.large"
	cluster.UserIntent.MasterDeviceInfo = gp3(50, nil, nil)

	u := &types.Universe{UUID: "u1", Clusters: []*types.Cluster{cluster}}
	for i := 0; i < 6; i++ {
		n := &types.NodeDetails{Name: fmt.Sprintf("n%d", i), ClusterUUID: "c1", InstanceType: "m5.large", State: types.NodeStateLive}
		if i < 3 {
			n.IsMaster, n.DedicatedTo = true, &master
		} else {
			n.IsTserver, n.DedicatedTo = true, &tserver
		}
		u.Nodes = append(u.Nodes, n)
	}

	// tservers change instance, masters only grow their disks
	desired := cluster.UserIntent.Clone()
	desired.InstanceType = "m5.xlarge"
	desired.MasterDeviceInfo.VolumeSize = 100

	decisions, err := Decide(u, cluster, desired, false)
	require.NoError(t, err)
	require.Len(t, decisions, 6)

	instance, deviceOnly, unaffected := Partition(decisions)
	assert.Len(t, instance, 3)
	assert.Len(t, deviceOnly, 3)
	assert.Empty(t, unaffected)
	for _, d := range deviceOnly {
		assert.Equal(t, types.ServerMaster, d.ServerType)
		assert.Equal(t, DeviceOnly, d.Category())
	}

	// a node already at the new type is skipped
	u.Node("n3").InstanceType = "m5.xlarge"
	decisions, err = Decide(u, cluster, desired, false)
	require.NoError(t, err)
	instance, _, unaffected = Partition(decisions)
	assert.Len(t, instance, 2)
	assert.Len(t, unaffected, 1)
	assert.Equal(t, "n3", unaffected[0].Node.Name)

	// force touches every node
	decisions, err = Decide(u, cluster, cluster.UserIntent, true)
	require.NoError(t, err)
	instance, _, _ = Partition(decisions)
	assert.Len(t, instance, 6)
	for _, d := range decisions {
		assert.True(t, d.DeviceChange)
	}
}
