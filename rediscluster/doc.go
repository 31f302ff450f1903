/*
Package rediscluster implements strategy for redis cluster.

Cluster learns slot ownership with CLUSTER SLOTS from seed nodes, and keeps it as
immutable 16384-entry slot map behind atomic pointer. Routing reads the map without locks.
Redirections patch single slot by copying the map, and full refresh replaces it.
Concurrent refreshes are coalesced into single discovery.

Pools are created lazily, one per node address.

Cluster doesn't follow MOVED and ASK itself: it only tells where the slot lives.
Client retries redirected request against pool returned by PoolForAddr.
*/
package rediscluster
