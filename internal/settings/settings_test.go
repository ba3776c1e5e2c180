package settings

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/danmuck/mutectl/internal/testutil/testlog"
)

func TestFormatFor(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Format{
		"settings.toml": FormatTOML,
		"settings.yaml": FormatYAML,
		"settings.YML":  FormatYAML,
		"settings.json": FormatJSON,
		"settings":      FormatTOML,
	}
	for path, want := range cases {
		if got := FormatFor(path); got != want {
			t.Fatalf("FormatFor(%q) got=%s want=%s", path, got, want)
		}
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	testlog.Start(t)
	s, err := NewStore(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c != (Credentials{}) {
		t.Fatalf("expected empty credentials, got %+v", c)
	}
}

func TestSaveLoadEachFormat(t *testing.T) {
	testlog.Start(t)
	want := Credentials{ClientID: "207646673902501888", ClientSecret: "s3cr3t", AccessToken: "tok"}
	for _, name := range []string{"settings.toml", "settings.yaml", "settings.json"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		s, err := NewStore(path)
		if err != nil {
			t.Fatalf("%s new store: %v", name, err)
		}
		if err := s.Save(want); err != nil {
			t.Fatalf("%s save: %v", name, err)
		}
		got, err := s.Load()
		if err != nil {
			t.Fatalf("%s load: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s got=%+v want=%+v", name, got, want)
		}
		if runtime.GOOS != "windows" {
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("%s stat: %v", name, err)
			}
			if info.Mode().Perm() != 0o600 {
				t.Fatalf("%s unexpected mode %v", name, info.Mode().Perm())
			}
		}
	}
}

func TestLoadLegacyJSONLayout(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{
  "clientId": "123",
  "clientSecret": "abc",
  "accessToken": ""
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := NewStore(path)
	c, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ClientID != "123" || c.ClientSecret != "abc" || c.AccessToken != "" {
		t.Fatalf("unexpected credentials: %+v", c)
	}
}

func TestLoadParseError(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("client_id = \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := NewStore(path)
	if _, err := s.Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	if err := (Credentials{}).Validate(); !errors.Is(err, ErrClientIDRequired) {
		t.Fatalf("expected ErrClientIDRequired, got %v", err)
	}
	if _, err := NewStore(" "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}
