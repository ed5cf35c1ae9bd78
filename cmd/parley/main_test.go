package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, w := range []string{"version:", "go_version:", "os:"} {
		if !strings.Contains(out.String(), w) {
			t.Errorf("output missing %q:\n%s", w, out.String())
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: parley") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v", err)
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-o", "xml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v", err)
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: parley ask") {
		t.Errorf("err = %v", err)
	}
}

func TestRunTaskRequiresID(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"task"})
	if err == nil || !strings.Contains(err.Error(), "usage: parley task") {
		t.Errorf("err = %v", err)
	}

	err = run(context.Background(), &out, &errOut, []string{"task", "-cancel"})
	if err == nil || !strings.Contains(err.Error(), "usage: parley task") {
		t.Errorf("err = %v", err)
	}
}
