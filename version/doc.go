// Package version reports the build of the running binary.
//
// Values injected with -ldflags win over the VCS stamp of the Go toolchain:
//
//	go build -ldflags "-X github.com/kbukum/idresolver/version.Version=1.4.0" ./cmd/idresolver
package version
