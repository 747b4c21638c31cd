package main

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func TestRunDispatch(t *testing.T) {
	oldServer, oldMeasure, oldMCP := runServer, runMeasure, runMCP
	t.Cleanup(func() {
		runServer, runMeasure, runMCP = oldServer, oldMeasure, oldMCP
	})

	var got struct {
		target string
		args   []string
	}

	runServer = func(args []string, _ string) int {
		got.target = "serve"
		got.args = append([]string(nil), args...)
		return 11
	}
	runMeasure = func(args []string, _ string) int {
		got.target = "measure"
		got.args = append([]string(nil), args...)
		return 12
	}
	runMCP = func(_ string) int {
		got.target = "mcp"
		got.args = nil
		return 14
	}

	tests := []struct {
		name       string
		args       []string
		wantTarget string
		wantArgs   []string
		wantExit   int
	}{
		{name: "serve flags pass through", args: []string{"serve", "--port", "9000"}, wantTarget: "serve", wantArgs: []string{"--port", "9000"}, wantExit: 11},
		{name: "measure help is not swallowed", args: []string{"measure", "--help"}, wantTarget: "measure", wantArgs: []string{"--help"}, wantExit: 12},
		{name: "measure no args", args: []string{"measure"}, wantTarget: "measure", wantArgs: nil, wantExit: 12},
		{name: "mcp", args: []string{"mcp"}, wantTarget: "mcp", wantExit: 14},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got.target = ""
			got.args = nil
			code := run(tc.args, "test")
			if code != tc.wantExit {
				t.Fatalf("exit code = %d, want %d", code, tc.wantExit)
			}
			if got.target != tc.wantTarget {
				t.Fatalf("target = %q, want %q", got.target, tc.wantTarget)
			}
			if len(tc.wantArgs) > 0 && !slices.Equal(got.args, tc.wantArgs) {
				t.Fatalf("args = %v, want %v", got.args, tc.wantArgs)
			}
		})
	}
}

func TestRunVersionAndUnknown(t *testing.T) {
	var out bytes.Buffer
	exit := 0
	root := newRootCommand("1.2.3", &exit)
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "linkspeed 1.2.3") {
		t.Fatalf("version output = %q", out.String())
	}

	if code := run([]string{"--help"}, "test"); code != 0 {
		t.Fatalf("--help exit code = %d, want 0", code)
	}
	if code := run([]string{"unknown-cmd"}, "test"); code != 2 {
		t.Fatalf("unknown exit code = %d, want 2", code)
	}
	if code := run([]string{"--unknown-flag"}, "test"); code != 2 {
		t.Fatalf("unknown top-level flag exit code = %d, want 2", code)
	}
}
