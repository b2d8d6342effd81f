package resize

import (
	"context"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/provider"
	"github.com/cuemby/fleet/pkg/types"
)

// Range is an inclusive provisioning range
type Range struct {
	Min int
	Max int
}

func (r Range) contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// IOPS and throughput can only be provisioned on these AWS storage types
var (
	iopsRanges = map[types.StorageType]Range{
		types.StorageGP3: {Min: 3000, Max: 16000},
		types.StorageIO1: {Min: 100, Max: 64000},
		types.StorageIO2: {Min: 100, Max: 256000},
	}
	throughputRanges = map[types.StorageType]Range{
		types.StorageGP3: {Min: 125, Max: 1000},
	}
)

// smart resize is supported on these providers only
var allowedProviders = map[types.ProviderType]bool{
	types.ProviderAWS:   true,
	types.ProviderGCP:   true,
	types.ProviderAzure: true,
}

// InstanceChanged reports whether node must move to the instance type the
// intent wants for serverType. force always reports a change.
func InstanceChanged(node *types.NodeDetails, intent *types.UserIntent, serverType types.ServerType, force bool) bool {
	return force || node.InstanceType != intent.InstanceTypeFor(serverType)
}

// DeviceChanged reports whether the volumes described by current must be
// changed to match desired. Shrinking a volume is a validation error, as is
// IOPS or throughput outside the storage type's provisioning range.
func DeviceChanged(current, desired *types.DeviceInfo, providerType types.ProviderType, force bool) (bool, error) {
	if current == nil || desired == nil {
		return force && desired != nil, nil
	}

	if desired.VolumeSize < current.VolumeSize {
		return false, apierr.BadRequestf("disk size cannot be decreased: %d GB -> %d GB",
			current.VolumeSize, desired.VolumeSize)
	}
	if desired.NumVolumes != current.NumVolumes {
		return false, apierr.BadRequestf("number of volumes cannot be changed: %d -> %d",
			current.NumVolumes, desired.NumVolumes)
	}
	if desired.StorageType != current.StorageType {
		return false, apierr.BadRequestf("storage type cannot be changed: %s -> %s",
			current.StorageType, desired.StorageType)
	}

	iopsChanged := !equalPtr(current.DiskIOPS, desired.DiskIOPS)
	throughputChanged := !equalPtr(current.Throughput, desired.Throughput)

	if iopsChanged && desired.DiskIOPS != nil {
		if err := checkProvisioned("IOPS", *desired.DiskIOPS, iopsRanges, providerType, desired.StorageType); err != nil {
			return false, err
		}
	}
	if throughputChanged && desired.Throughput != nil {
		if err := checkProvisioned("throughput", *desired.Throughput, throughputRanges, providerType, desired.StorageType); err != nil {
			return false, err
		}
	}

	return force || desired.VolumeSize != current.VolumeSize || iopsChanged || throughputChanged, nil
}

func checkProvisioned(what string, value int, ranges map[types.StorageType]Range, providerType types.ProviderType, storage types.StorageType) error {
	r, ok := ranges[storage]
	if providerType != types.ProviderAWS || !ok {
		return apierr.BadRequestf("%s cannot be provisioned for %s storage on provider %s", what, storage, providerType)
	}
	if !r.contains(value) {
		return apierr.BadRequestf("%s %d for %s is outside the allowed range %d-%d", what, value, storage, r.Min, r.Max)
	}
	return nil
}

func equalPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// IsEphemeral reports whether data on an instance type and device lives on
// instance-local disks
func IsEphemeral(info *provider.InstanceTypeInfo, device *types.DeviceInfo) bool {
	if info != nil && info.EphemeralStorage {
		return true
	}
	if device != nil && (device.StorageType == types.StorageScratch || device.StorageType == types.StorageInstanceDisk) {
		return true
	}
	return false
}

// CheckResizePossible gates a resize of cluster to desired. The provider must
// support smart resize, dedicated mode may not be toggled, new instance types
// must be advertised, and clusters on ephemeral storage cannot be resized,
// not even with force.
func CheckResizePossible(ctx context.Context, cluster *types.Cluster, desired *types.UserIntent, catalog provider.Catalog, force bool) error {
	current := cluster.UserIntent
	providerType := current.ProviderType

	if !allowedProviders[providerType] || desired.ProviderType != providerType {
		return apierr.BadRequestf("smart resize is not supported for provider %s", desired.ProviderType)
	}
	if current.DedicatedNodes != desired.DedicatedNodes {
		return apierr.BadRequestf("dedicated nodes cannot be toggled by a resize")
	}
	if desired.InstanceType == "" {
		return apierr.BadRequestf("instance type is required")
	}

	serverTypes := []types.ServerType{types.ServerTServer}
	if desired.DedicatedNodes {
		serverTypes = append(serverTypes, types.ServerMaster)
	}

	for _, st := range serverTypes {
		curType, newType := current.InstanceTypeFor(st), desired.InstanceTypeFor(st)
		curDevice, newDevice := current.DeviceInfoFor(st), desired.DeviceInfoFor(st)

		newInfo, err := catalog.InstanceType(ctx, providerType, newType)
		if err != nil {
			if apierr.IsNotFound(err) {
				return apierr.BadRequestf("instance type %s is not offered by provider %s", newType, providerType)
			}
			return err
		}
		curInfo, err := catalog.InstanceType(ctx, providerType, curType)
		if err != nil && !apierr.IsNotFound(err) {
			return err
		}
		if curInfo == nil {
			curInfo = &provider.InstanceTypeInfo{
				Name:             curType,
				EphemeralStorage: provider.IsEphemeralFamily(providerType, curType),
			}
		}

		deviceChange, err := DeviceChanged(curDevice, newDevice, providerType, false)
		if err != nil {
			return err
		}

		changing := force || deviceChange || curType != newType
		if changing && (IsEphemeral(curInfo, curDevice) || IsEphemeral(newInfo, newDevice)) {
			return apierr.BadRequestf("%s nodes use ephemeral storage (%s -> %s) and cannot be resized",
				st, curType, newType)
		}
	}

	return nil
}
