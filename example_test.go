package redisguard_test

import (
	"context"
	"fmt"
	"log"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redisclient"
	"github.com/joomcode/redisguard/redisconfig"
	"github.com/joomcode/redisguard/redismetrics"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/testbed"
)

func Example_usage() {
	// fake server instead of real one at 127.0.0.1:6379
	srv := testbed.NewServer()
	defer srv.Stop()

	ctx := context.Background()

	cfg := redisconfig.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = int(srv.Port)
	cfg.NearCache.Enabled = true
	// or: cfg, err := redisconfig.LoadEnv(redisconfig.DefaultEnvPrefix, ".env")

	client, err := redisclient.New(ctx, cfg,
		redisclient.WithLoggers(redisclient.NoopLoggers()), // shut up logging
		redisclient.WithMetrics(redismetrics.Noop()),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close(ctx)

	res, err := client.Command(ctx, redispool.PriorityNormal, "SET", "key", "ho")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("result: %q\n", res)

	res, err = client.Command(ctx, redispool.PriorityNormal, "GET", "key")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("result: %q\n", res)

	_, err = client.Command(ctx, redispool.PriorityNormal, "NOSUCHCOMMAND", "key")
	if errorx.IsOfType(err, redis.ErrResult) {
		fmt.Printf("expected error: %s\n", errorx.Cast(err).Message())
	} else {
		fmt.Printf("unexpected error: %v\n", err)
	}

	_, err = client.Command(ctx, redispool.PriorityNormal, "SELECT", 1)
	fmt.Printf("rejected: %v\n", errorx.IsOfType(err, redis.ErrDangerousCommand))

	results, err := client.Batch(ctx, redispool.PriorityNormal, []redis.Request{
		redis.Req("SET", "a", 1),
		redis.Req("GET", "a"),
		redis.Req("EXPIRE", "a", 60),
		redis.Req("NOSUCHCOMMAND"),
	})
	if err != nil {
		log.Fatal(err)
	}
	// results is []interface{}, each element is result for corresponding request
	for i, res := range results {
		if rerr := redis.AsErrorx(res); rerr != nil {
			fmt.Printf("batch[%d]: error %s\n", i, rerr.Message())
			continue
		}
		fmt.Printf("batch[%d]: %T %q\n", i, res, res)
	}

	// write is buffered, but visible to Get at once
	if err := client.Set(ctx, "buffered", []byte("value"), 0); err != nil {
		log.Fatal(err)
	}
	v, err := client.Get(ctx, "buffered")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("near-cache: %q\n", v)
	if err := client.Join(ctx); err != nil {
		log.Fatal(err)
	}
	stored, _ := srv.Value("buffered")
	fmt.Printf("stored: %q\n", stored)

	// Output:
	// result: "OK"
	// result: "ho"
	// expected error: ERR unknown command 'nosuchcommand'
	// rejected: true
	// batch[0]: string "OK"
	// batch[1]: []uint8 "1"
	// batch[2]: int64 '\x01'
	// batch[3]: error ERR unknown command 'nosuchcommand'
	// near-cache: "value"
	// stored: "value"
}
