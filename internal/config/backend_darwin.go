//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.circled.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "circled")
	}
	return "circled-data"
}

func apiKeyHint() string {
	return " or macOS Keychain (service: circled, account: api_key)"
}

// darwinBackend keeps settings in the user defaults database. Bool and
// duration keys are written as strings.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// defaults runs the defaults CLI against the domain. missing is true when
// the command exited 1, which is how it reports an absent key.
func (b *darwinBackend) defaults(args ...string) (out string, missing bool, err error) {
	cmd := exec.Command("defaults", append([]string{args[0], b.domain}, args[1:]...)...)
	raw, err := cmd.CombinedOutput()
	out = strings.TrimSpace(string(raw))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", true, nil
		}
		return "", false, fmt.Errorf("defaults %s %s: %w (%s)", args[0], strings.Join(args[1:], " "), err, out)
	}
	return out, false, nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	s, missing, err := b.defaults("read", key)
	if err != nil || missing {
		return "", false, err
	}
	return s, true, nil
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	_, _, err := b.defaults("write", key, "-string", val)
	return err
}

func (b *darwinBackend) SetInt(key string, val int) error {
	_, _, err := b.defaults("write", key, "-int", strconv.Itoa(val))
	return err
}

// Delete is a no-op for keys that were never written.
func (b *darwinBackend) Delete(key string) error {
	_, _, err := b.defaults("delete", key)
	return err
}
