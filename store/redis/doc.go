// Package redis implements the hot-path part of the store: job delivery,
// dead letters and locks. Combine it with a record store through
// store.Split.
//
// Jobs are Hashes; every queue is a Sorted Set of pending and retrying
// job IDs scored by RunAt in milliseconds, so a claim is a range over
// due scores followed by a ZREM that only one caller can win. Locks are
// plain keys set with SET NX PX and released by a compare-and-delete
// script, so an expired lease never frees a lock someone else holds.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	queue := redisstore.New(client)
//	s := store.Split(postgresStore, queue)
package redis
