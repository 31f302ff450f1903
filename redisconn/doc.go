/*
Package redisconn implements a single blocking connection to redis server.

Conn is a "wrapper" around single tcp (unix-socket, tls) connection. Every request is
written and its answer is read synchronously, and several requests could be pipelined
with Pipeline or DoMany: they are written with one flush and answers are read in FIFO order.

Conn is NOT thread-safe: it is intended to be owned by one borrower at a time (see redispool).
Conn doesn't reconnect: after any io or protocol error it is marked as broken, and should be
destroyed by its owner.
*/
package redisconn
