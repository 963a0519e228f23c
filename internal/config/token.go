package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFile = "api_token"

// APIToken returns the bearer token for the local API. A configured
// api.token wins; otherwise a random token is generated on first use and
// kept in <data_dir>/api_token so CLI clients can read it.
func APIToken(cfg Config) (string, error) {
	if cfg.API.Token != "" {
		return cfg.API.Token, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, tokenFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("saving api token: %w", err)
	}
	return tok, nil
}
