// Package provider answers which instance types a cloud provider offers and
// whether their data disks are instance-local (ephemeral). StaticCatalog is an
// in-memory table, EC2Catalog asks the EC2 API, and Chain combines them.
package provider
