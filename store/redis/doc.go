// Package redis implements store.Store on a standalone Redis server using
// go-redis. Each job is a Hash; sorted sets index queued jobs by creation
// time, processing jobs by last heartbeat, and each tenant's jobs for
// listings. Per-status counters are kept in Hashes.
//
// Every state change runs as a Lua script, so a claim or lease-checked
// write is atomic even with many workers polling the same server. Scripts
// touch keys derived from the job's tenant, so Redis Cluster is not
// supported.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
