/*
Package redisguard - resilient pool-managed Redis client.

Every command borrows a dedicated connection from a bounded pool, runs through circuit breaker,
retry policy and operation timeout, and returns the connection back (or destroys it, if its
protocol state is unknown). Topology is hidden behind a strategy: standalone server,
sentinel-managed master, or cluster with slot routing.

Capabilities

- bounded pools with idle eviction, minimal idle prefill, test-on-borrow and low-priority ceiling,

- circuit breaker which fails fast while node is unhealthy, and probes it after reset timeout,

- jittered exponential retries of connectivity failures; non-idempotent commands are sent at most once,

- hard operation deadline: caller never waits longer, even if server hangs,

- sentinel: follows +switch-master notifications and rediscovers master on connection failure,

- cluster: routes keys by slot, follows MOVED and ASK redirects, refreshes slot map,

- near-cache: non-blocking writes persisted in background with read-your-own-write visibility,

- hooks for custom logging, OpenTelemetry metrics and tracing.

Limitations

- commands which change connection state are rejected, since connection is shared between
callers over time: `SELECT`, `AUTH`, `MULTI`, `EXEC`, `WATCH`, `SUBSCRIBE`, `MONITOR` and so on.

- transactions are not supported.

Structure

- root package is empty

- common functionality (requests, RESP reader and writer, errors) is in redis subpackage

- single connection is in redisconn subpackage, pool of them is in redispool

- circuit breaker, retry and timeout are in resilience subpackage

- topologies are in redisstrategy, redissentinel and rediscluster subpackages

- near-cache write buffer is in nearcache subpackage

- composed client is in redisclient subpackage, its configuration is in redisconfig

- command line client is bin/redisguard

Usage

Configuration is usually loaded with redisconfig.LoadEnv or redisconfig.LoadFile, and passed to
redisclient.New. Client is safe for concurrent use.

Types accepted as command arguments: nil, []byte, string, int (and all other integer types),
float64, float32, bool. All arguments are converted to redis bulk strings as usual.

Results are de-serialized into plain go types and are returned as interface{}:

  redis        | go
  -------------|-------
  plain string | string
  bulk string  | []byte
  integer      | int64
  array        | []interface{}
  error        | error (*errorx.Error)

Error reply of a single command is returned as error of type redis.ErrResult, and doesn't count
as a failure of node. In a batch, error replies are kept in place of results.
*/
package redisguard
