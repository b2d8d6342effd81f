package provider

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/types"
)

// EC2Catalog looks instance types up with the EC2 DescribeInstanceTypes API.
// Answers are cached for the lifetime of the catalog.
type EC2Catalog struct {
	client ec2iface.EC2API

	mu    sync.Mutex
	cache map[string]*InstanceTypeInfo
}

// NewEC2Catalog creates a catalog for region using the default credential chain
func NewEC2Catalog(region string) (*EC2Catalog, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "error creating AWS EC2 session")
	}
	return NewEC2CatalogWithClient(ec2.New(sess)), nil
}

// NewEC2CatalogWithClient creates a catalog over an existing EC2 client
func NewEC2CatalogWithClient(client ec2iface.EC2API) *EC2Catalog {
	return &EC2Catalog{
		client: client,
		cache:  make(map[string]*InstanceTypeInfo),
	}
}

// InstanceType implements Catalog. Providers other than AWS are NotFound.
func (c *EC2Catalog) InstanceType(ctx context.Context, provider types.ProviderType, name string) (*InstanceTypeInfo, error) {
	if provider != types.ProviderAWS {
		return nil, apierr.NotFoundf("EC2 catalog does not serve provider %s", provider)
	}

	c.mu.Lock()
	cached, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	out, err := c.client.DescribeInstanceTypesWithContext(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []*string{aws.String(name)},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "InvalidInstanceType" {
			return nil, apierr.NotFoundf("instance type %s is not offered by EC2", name)
		}
		return nil, apierr.Wrap(apierr.KindInternal, err, "describe instance type %s", name)
	}
	if len(out.InstanceTypes) == 0 {
		return nil, apierr.NotFoundf("instance type %s is not offered by EC2", name)
	}

	it := out.InstanceTypes[0]
	info := &InstanceTypeInfo{
		Name:             aws.StringValue(it.InstanceType),
		Provider:         types.ProviderAWS,
		EphemeralStorage: aws.BoolValue(it.InstanceStorageSupported) || IsEphemeralFamily(types.ProviderAWS, name),
	}
	if it.VCpuInfo != nil {
		info.NumCores = float64(aws.Int64Value(it.VCpuInfo.DefaultVCpus))
	}
	if it.MemoryInfo != nil {
		info.MemSizeGB = float64(aws.Int64Value(it.MemoryInfo.SizeInMiB)) / 1024
	}

	logger := log.WithComponent("provider")
	logger.Debug().
		Str("instance_type", name).
		Bool("ephemeral", info.EphemeralStorage).
		Msg("Described EC2 instance type")

	c.mu.Lock()
	c.cache[name] = info
	c.mu.Unlock()

	copied := *info
	return &copied, nil
}
