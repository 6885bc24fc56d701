// Package redis provides the go-redis client behind the shared cache tier.
//
// A server farm points every node at the same Redis so identity lookups
// cached by one node are served by all of them. TypedStore stores
// JSON-serialized values under a key prefix:
//
//	store := redis.NewTypedStore[Entry](client, "idresolver")
//	err := store.Save(ctx, "user_lookup::memory.corp::login:alice", &e, ttl)
//
// Component manages the client within the service lifecycle.
package redis
