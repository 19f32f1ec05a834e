package shellcore

import (
	"errors"
	"testing"
)

func TestCommandsClosedSet(t *testing.T) {
	cmds := Commands()
	if len(cmds) == 0 {
		t.Fatal("allow-list is empty")
	}
	seen := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		seen[c] = true
	}
	for _, want := range []string{"status", "version", "sync", "build", "check", "doctor", "export"} {
		if !seen[want] {
			t.Fatalf("allow-list missing %q: %v", want, cmds)
		}
	}
}

func TestFacadeSpawnValidation(t *testing.T) {
	sup := New(Options{})
	defer sup.Cleanup()

	if _, err := sup.Spawn("not-a-command", nil); err == nil {
		t.Fatal("expected rejection for unknown command")
	}
	if err := sup.Cancel("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFacadeConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen == "" || cfg.BasePath == "" {
		t.Fatalf("incomplete defaults: %+v", cfg)
	}
}
