package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreyvit/ejdb"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	if err != nil {
		t.Fatalf("ejdb %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestSaveLoadAcrossEngines(t *testing.T) {
	for _, engine := range []string{"bolt", "badger", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")
			flags := []string{"--engine", engine, "--path", path}

			mustRun(t, "", append([]string{"ensure", "people", "--compressed"}, flags...)...)

			out := mustRun(t, "", append([]string{"save", "people", `{"name":"Ann","age":30}`}, flags...)...)
			idHex := strings.TrimSpace(out)
			if _, err := ejdb.ObjectIDFromHex(idHex); err != nil {
				t.Fatalf("save printed %q, wanted an id: %v", out, err)
			}

			out = mustRun(t, "", append([]string{"load", "people", idHex}, flags...)...)
			if !strings.Contains(out, `"name": "Ann"`) || !strings.Contains(out, `"$oid": "`+idHex+`"`) {
				t.Errorf("load = %s", out)
			}

			out = mustRun(t, "", append([]string{"list"}, flags...)...)
			if a, e := out, "people\tcompressed=true\tsize_hint=0\n"; a != e {
				t.Errorf("list = %q, wanted %q", a, e)
			}

			mustRun(t, "", append([]string{"drop", "people"}, flags...)...)
			out = mustRun(t, "", append([]string{"vacuum"}, flags...)...)
			if a, e := out, "reclaimed 1\n"; a != e {
				t.Errorf("vacuum = %q, wanted %q", a, e)
			}
		})
	}
}

func TestSaveFromStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	out := mustRun(t, "{\"a\":1}\n\n{\"a\":2}\n", "save", "nums", "--path", path)
	if n := len(strings.Fields(out)); n != 2 {
		t.Fatalf("save printed %d ids, wanted 2: %q", n, out)
	}

	_, err := run(t, "{\"a\":1}\nnot json\n", "save", "nums", "--path", path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("save with bad line err = %v, wanted line 2 error", err)
	}
}

func TestEngineFromEnv(t *testing.T) {
	t.Setenv("EJDB_ENGINE", "nosuch")
	_, err := run(t, "", "list", "--path", filepath.Join(t.TempDir(), "db"))
	if err == nil || !strings.Contains(err.Error(), `unknown engine: "nosuch"`) {
		t.Errorf("err = %v, wanted unknown engine", err)
	}
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	_, err := run(t, "", "load", "people", ejdb.NewObjectID().Hex(), "--path", path)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, wanted not found", err)
	}
	_, err = run(t, "", "load", "people", "xyz", "--path", path)
	if err == nil {
		t.Errorf("load with bad id succeeded")
	}
}

func TestWrapString(t *testing.T) {
	s := wrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(s, "\n") {
		if len(line) > wrap {
			t.Errorf("line %q is longer than %d", line, wrap)
		}
	}
}

func TestReadOnlyFlag(t *testing.T) {
	for _, engine := range []string{"bolt", "badger", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")
			flags := []string{"--engine", engine, "--path", path}
			idHex := strings.TrimSpace(mustRun(t, "", append([]string{"save", "people", `{"name":"Ann"}`}, flags...)...))

			ro := append(flags, "--read-only")
			out := mustRun(t, "", append([]string{"load", "people", idHex}, ro...)...)
			if !strings.Contains(out, `"name": "Ann"`) {
				t.Errorf("read-only load = %s", out)
			}

			_, err := run(t, "", append([]string{"save", "people", `{"name":"Bob"}`}, ro...)...)
			if err == nil || !strings.Contains(err.Error(), "read-only") {
				t.Errorf("read-only save err = %v, wanted read-only error", err)
			}
		})
	}

	_, err := run(t, "", "list", "--engine", "memory", "--read-only")
	if err == nil {
		t.Errorf("read-only memory engine opened")
	}
}
