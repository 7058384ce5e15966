package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// run executes the CLI against a throwaway token file with encryption off.
func run(t *testing.T, tokensFile, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.Writer = &out
	cmd.ErrWriter = io.Discard
	cmd.Reader = strings.NewReader(stdin)

	full := append([]string{"devpilot", "--tokens--file", tokensFile, "--tokens--encryption", "none"}, args...)
	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func TestTokenCommands(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tokens.json")

	if _, err := run(t, file, "", "token", "set", "access_token", "abc"); err != nil {
		t.Fatalf("token set error = %v", err)
	}
	if _, err := run(t, file, "from-stdin\n", "token", "set", "refresh_token"); err != nil {
		t.Fatalf("token set from stdin error = %v", err)
	}

	out, err := run(t, file, "", "token", "get", "refresh_token")
	if err != nil {
		t.Fatalf("token get error = %v", err)
	}
	if strings.TrimSpace(out) != "from-stdin" {
		t.Errorf("token get = %q, want from-stdin", out)
	}

	out, err = run(t, file, "", "token", "list")
	if err != nil {
		t.Fatalf("token list error = %v", err)
	}
	if got := strings.Fields(out); !slices.Equal(got, []string{"access_token", "refresh_token"}) {
		t.Errorf("token list = %v", got)
	}

	out, _ = run(t, file, "", "token", "valid", "access_token")
	if strings.TrimSpace(out) != "true" {
		t.Errorf("token valid = %q, want true", out)
	}
	out, _ = run(t, file, "", "token", "extend", "access_token")
	if strings.TrimSpace(out) != "true" {
		t.Errorf("token extend = %q, want true", out)
	}

	if _, err := run(t, file, "", "token", "remove", "access_token"); err != nil {
		t.Fatalf("token remove error = %v", err)
	}
	if _, err := run(t, file, "", "token", "get", "access_token"); err == nil {
		t.Error("token get after remove error = nil")
	}

	if _, err := run(t, file, "", "token", "clear"); err != nil {
		t.Fatalf("token clear error = %v", err)
	}
	out, _ = run(t, file, "", "token", "valid", "refresh_token")
	if strings.TrimSpace(out) != "false" {
		t.Errorf("token valid after clear = %q, want false", out)
	}

	if _, err := run(t, file, "", "token", "get"); err == nil {
		t.Error("token get without key error = nil")
	}
}

func TestTokenKeygen(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "tokens.json"), "", "token", "keygen")
	if err != nil {
		t.Fatalf("token keygen error = %v", err)
	}
	if len(strings.TrimSpace(out)) == 0 {
		t.Error("token keygen printed nothing")
	}
}

func TestFilesCommand(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"src/a.ts", "node_modules/dep/index.js", "README.md"} {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	out, err := run(t, filepath.Join(t.TempDir(), "tokens.json"), "", "files", root)
	if err != nil {
		t.Fatalf("files error = %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 1 || !strings.HasSuffix(filepath.ToSlash(lines[0]), "src/a.ts") {
		t.Errorf("files = %v, want only src/a.ts", lines)
	}

	if _, err := run(t, filepath.Join(t.TempDir(), "tokens.json"), "", "files"); err == nil {
		t.Error("files without root error = nil")
	}
}
