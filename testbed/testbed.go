// Package testbed is a tool for running fake redis servers in tests.
//
// Server speaks RESP over real tcp sockets and implements a small subset of redis commands
// (PING, ECHO, AUTH, SELECT, GET, SET, EXPIRE, TTL, DEL, EXISTS, INCR, SUBSCRIBE, PUBLISH, QUIT).
// Any command could be overridden or added with Server.Handle, which is used to emulate
// sentinel and cluster nodes, failures and hangs.
package testbed
