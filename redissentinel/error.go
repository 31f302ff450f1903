package redissentinel

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrSentinel - sentinel related errors.
	ErrSentinel = redis.Errors.NewSubNamespace("sentinel")
	// ErrNoLeader - no sentinel node answered with leader address.
	ErrNoLeader = ErrSentinel.NewType("no_leader", redis.ErrTraitConnectivity)
	// ErrMalformedAnswer - sentinel answered with something that is not an address.
	ErrMalformedAnswer = ErrSentinel.NewType("malformed_answer")
	// ErrNoMasterName - master name is not configured.
	ErrNoMasterName = redis.ErrOpts.NewType("no_master_name")
)

var (
	// EKMasterName - name of monitored master.
	EKMasterName = errorx.RegisterProperty("master_name")
)
