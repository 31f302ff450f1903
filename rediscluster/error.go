package rediscluster

import "github.com/joomcode/redisguard/redis"

var (
	// ErrCluster - some cluster related errors.
	ErrCluster = redis.Errors.NewSubNamespace("cluster")
	// ErrClusterSlots - fetching slots configuration failed
	ErrClusterSlots = ErrCluster.NewType("slots", redis.ErrTraitConnectivity)
	// ErrClusterConfigEmpty - no addresses found in config.
	ErrClusterConfigEmpty = ErrCluster.NewType("config_empty")
	// ErrClusterClosed - cluster is closed.
	ErrClusterClosed = ErrCluster.NewType("closed", redis.ErrTraitNotSent)
)
