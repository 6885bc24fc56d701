// Package resolution turns user references into resolver bindings.
//
// The Engine combines the realm directory, the resolver gateway and the
// lookup and membership caches. It answers which resolvers contain a login,
// what its unique id is, whether a password is valid for it and which users
// a set of resolvers lists. Outages of single resolvers are written to the
// request's audit sink and never fail an operation on their own.
package resolution
