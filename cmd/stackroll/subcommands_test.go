package main

import (
	"errors"
	"testing"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"InstanceType=m5.large", "Tags=a=b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["InstanceType"] != "m5.large" || got["Tags"] != "a=b" {
		t.Fatalf("got %v", got)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatExecResult(t *testing.T) {
	tests := []struct {
		in   api.ExecResult
		want string
	}{
		{api.ExecResult{InstanceID: "i-1", Stdout: " up 3 days\n"}, "i-1:'up 3 days' (exit 0)"},
		{api.ExecResult{InstanceID: "i-2", ExitStatus: 2, Stderr: "no such file\n"}, "i-2:'' (exit 2) ERR:'no such file'"},
		{api.ExecResult{InstanceID: "i-3", Err: errors.New("dial tcp: timeout")}, "i-3: error: dial tcp: timeout"},
	}
	for _, tt := range tests {
		if got := formatExecResult(tt.in); got != tt.want {
			t.Fatalf("got %q, want %q", got, tt.want)
		}
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"update", "redeploy", "exec", "resize", "status", "lb", "fetch", "history", "version"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Fatalf("missing command %s: %v", name, err)
		}
	}
}
