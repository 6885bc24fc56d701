// Package cache memoizes identity lookups in front of the resolver gateway.
//
// Lookup is the per-resolver bidirectional cache of login to id and id to
// login answers. Membership remembers which resolvers of a realm contain a
// login. Both keep at most one backend fetch per key in flight, store
// negative answers and never store unavailability or cancellation.
//
// Entries live in a Store: MemoryStore for a single process or RedisStore
// when several processes share one tier.
package cache
