package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const defaultProfilePath = "~/.config/theftclaim/cli.toml"

// Profile holds the operator connection settings.
type Profile struct {
	APIURL      string `toml:"api_url"`
	Token       string `toml:"token"`
	Timeout     string `toml:"timeout"`
	Parallelism int    `toml:"parallelism"`
}

// DefaultProfile returns the settings used when no profile file exists.
func DefaultProfile() Profile {
	return Profile{
		APIURL:      "http://localhost:8080/api/v1",
		Timeout:     "5m",
		Parallelism: 2,
	}
}

// LoadProfile reads a TOML profile. An empty path falls back to the default
// location, which may be absent; an explicit path must exist.
func LoadProfile(path string) (Profile, string, error) {
	profile := DefaultProfile()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = defaultProfilePath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return profile, "", err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return profile, resolved, nil
		}
		return profile, resolved, fmt.Errorf("open profile: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(&profile); err != nil {
		return profile, resolved, fmt.Errorf("parse profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return profile, resolved, err
	}
	return profile, resolved, nil
}

// Validate checks the profile values.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.APIURL) == "" {
		return errors.New("api_url must be set")
	}
	if p.Parallelism < 0 {
		return errors.New("parallelism must not be negative")
	}
	if _, err := p.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses the per-transfer timeout. Empty means no timeout.
func (p Profile) TimeoutDuration() (time.Duration, error) {
	value := strings.TrimSpace(p.Timeout)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", p.Timeout)
	}
	return d, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
