package provider

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCatalog(t *testing.T) {
	ctx := context.Background()
	c := DefaultCatalog()

	info, err := c.InstanceType(ctx, types.ProviderAWS, "m5.xlarge")
	require.NoError(t, err)
	assert.Equal(t, 4.0, info.NumCores)
	assert.False(t, info.EphemeralStorage)

	info, err = c.InstanceType(ctx, types.ProviderAWS, "i3.large")
	require.NoError(t, err)
	assert.True(t, info.EphemeralStorage)

	_, err = c.InstanceType(ctx, types.ProviderGCP, "m5.xlarge")
	assert.True(t, apierr.IsNotFound(err))
}

type fakeEC2 struct {
	ec2iface.EC2API
	calls int
}

func (f *fakeEC2) DescribeInstanceTypesWithContext(ctx aws.Context, in *ec2.DescribeInstanceTypesInput, opts ...request.Option) (*ec2.DescribeInstanceTypesOutput, error) {
	f.calls++
	switch aws.StringValue(in.InstanceTypes[0]) {
	case "m6i.large":
		return &ec2.DescribeInstanceTypesOutput{InstanceTypes: []*ec2.InstanceTypeInfo{{
			InstanceType:             aws.String("m6i.large"),
			InstanceStorageSupported: aws.Bool(false),
			VCpuInfo:                 &ec2.VCpuInfo{DefaultVCpus: aws.Int64(2)},
			MemoryInfo:               &ec2.MemoryInfo{SizeInMiB: aws.Int64(8192)},
		}}}, nil
	case "m6id.large":
		return &ec2.DescribeInstanceTypesOutput{InstanceTypes: []*ec2.InstanceTypeInfo{{
			InstanceType:             aws.String("m6id.large"),
			InstanceStorageSupported: aws.Bool(true),
		}}}, nil
	default:
		return nil, awserr.New("InvalidInstanceType", "no such type", nil)
	}
}

func TestEC2Catalog(t *testing.T) {
	ctx := context.Background()
	fake := &fakeEC2{}
	c := NewEC2CatalogWithClient(fake)

	info, err := c.InstanceType(ctx, types.ProviderAWS, "m6i.large")
	require.NoError(t, err)
	assert.Equal(t, 2.0, info.NumCores)
	assert.Equal(t, 8.0, info.MemSizeGB)
	assert.False(t, info.EphemeralStorage)

	_, err = c.InstanceType(ctx, types.ProviderAWS, "m6i.large")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls, "second lookup is cached")

	info, err = c.InstanceType(ctx, types.ProviderAWS, "m6id.large")
	require.NoError(t, err)
	assert.True(t, info.EphemeralStorage)

	_, err = c.InstanceType(ctx, types.ProviderAWS, "z9.huge")
	assert.True(t, apierr.IsNotFound(err))

	_, err = c.InstanceType(ctx, types.ProviderGCP, "n1-standard-4")
	assert.True(t, apierr.IsNotFound(err))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	chain := Chain{NewEC2CatalogWithClient(&fakeEC2{}), DefaultCatalog()}

	info, err := chain.InstanceType(ctx, types.ProviderGCP, "n1-standard-4")
	require.NoError(t, err)
	assert.Equal(t, types.ProviderGCP, info.Provider)

	info, err = chain.InstanceType(ctx, types.ProviderAWS, "m6i.large")
	require.NoError(t, err)
	assert.Equal(t, "m6i.large", info.Name)

	_, err = chain.InstanceType(ctx, types.ProviderAzure, "Standard_X")
	assert.True(t, apierr.IsNotFound(err))
}
