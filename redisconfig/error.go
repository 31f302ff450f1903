package redisconfig

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrConfig - configuration is invalid or could not be loaded.
	ErrConfig = redis.ErrOpts.NewType("config")

	// EKField - configuration field with wrong value.
	EKField = errorx.RegisterProperty("field")
)
