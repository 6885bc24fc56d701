// Package component defines the lifecycle contract shared by the
// infrastructure pieces of the resolver service.
//
// A Registry starts components in registration order, stops them in reverse
// order and collects their health for the service health report.
package component
