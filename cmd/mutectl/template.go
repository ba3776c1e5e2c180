package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func writeTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `# client_id and client_secret come from the Discord developer portal.
# MUTECTL_CLIENT_ID and MUTECTL_CLIENT_SECRET override them.
client_id = ""
client_secret = ""

# Cached access token lives here. .toml, .yaml and .json are supported.
settings_path = "~/.config/mutectl/settings.toml"

scopes = ["rpc", "rpc.voice.read", "rpc.voice.write"]
token_url = "https://discord.com/api/oauth2/token"
redirect_uri = "http://localhost"

request_timeout = "30s"
exchange_timeout = "10s"
pipe_candidates = 10
`
