package version

import (
	"runtime/debug"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "3f2a9c1d8e7b"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	tests := []struct {
		name string
		in   Info
		want string
	}{
		{"vcs stamp", Info{Version: "dev"}, "dev-3f2a9c1-dirty"},
		{"ldflags commit wins", Info{Version: "1.4.0", GitCommit: "abc"}, "1.4.0-abc-dirty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fromBuildInfo(tt.in, bi)
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
			if got.GoVersion != "go1.26.0" || got.BuildTime == "" {
				t.Errorf("unexpected info %+v", got)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := (Info{Version: "dev"}).String(); got != "dev" {
		t.Errorf("String() = %q", got)
	}
}
