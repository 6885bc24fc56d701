// Package realm maps realm names to ordered resolver lists.
//
// The Directory snapshots a Store and answers which resolvers serve a user
// reference, including the default realm, "*" and "prefix*" wildcard
// realms and resolver configuration overrides.
package realm
