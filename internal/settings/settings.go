// Package settings persists the client credential record between runs.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	logs "github.com/danmuck/mutectl/internal/logging"
)

var (
	ErrPathRequired     = errors.New("settings: path required")
	ErrClientIDRequired = errors.New("settings: client_id required")
)

// Credentials is the persisted credential record. The json names match the
// settings.json layout written by earlier releases.
type Credentials struct {
	ClientID     string `toml:"client_id" yaml:"client_id" json:"clientId"`
	ClientSecret string `toml:"client_secret" yaml:"client_secret" json:"clientSecret"`
	AccessToken  string `toml:"access_token" yaml:"access_token" json:"accessToken"`
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return ErrClientIDRequired
	}
	return nil
}

type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the codec from the file extension; unknown extensions
// use TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// Store loads and saves one credential file.
type Store struct {
	path   string
	format Format
	mu     sync.Mutex
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrPathRequired
	}
	return &Store{path: path, format: FormatFor(path)}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing file yields an empty record so the
// caller falls through to interactive authorization.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		logs.Infof("settings file not found path=%s", s.path)
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("settings load failed (%s): %w", s.path, err)
	}

	var c Credentials
	switch s.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &c)
	case FormatJSON:
		err = json.Unmarshal(data, &c)
	default:
		_, err = toml.Decode(string(data), &c)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("settings parse failed (%s): %w", s.path, err)
	}
	logs.Debugf("settings loaded path=%s has_token=%t", s.path, c.AccessToken != "")
	return c, nil
}

// Save writes the record through a temp file and rename.
func (s *Store) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.encode(c)
	if err != nil {
		return fmt.Errorf("settings encode failed (%s): %w", s.path, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	logs.Infof("settings saved path=%s", s.path)
	return nil
}

func (s *Store) encode(c Credentials) ([]byte, error) {
	switch s.format {
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
