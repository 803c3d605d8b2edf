// Package config reads settings from the environment, after an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid configuration")

// Client configures cmd/tablesync and the session it drives.
type Client struct {
	AuthorityURL      string
	Room              string
	Alias             string
	PrefsPath         string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	FlipDelay         time.Duration
	// DriftInterval arms periodic state validation; zero leaves it manual.
	DriftInterval time.Duration
	LogLevel      string
	Discover      bool
}

// Authority configures cmd/authority.
type Authority struct {
	Addr        string
	DatabaseURL string
	LogLevel    string
	Announce    bool
}

// Load reads the given .env files if they exist. A missing file is not an
// error; a malformed one is. Variables already set in the environment win.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadClient() (Client, error) {
	home, _ := os.UserConfigDir()
	c := Client{
		AuthorityURL: os.Getenv("TABLESYNC_AUTHORITY_URL"),
		Room:         os.Getenv("TABLESYNC_ROOM"),
		Alias:        os.Getenv("TABLESYNC_ALIAS"),
		PrefsPath:    getenv("TABLESYNC_PREFS_PATH", filepath.Join(home, "tablesync", "prefs.db")),
		LogLevel:     getenv("TABLESYNC_LOG_LEVEL", "info"),
	}
	var err error
	if c.HeartbeatInterval, err = duration("TABLESYNC_HEARTBEAT_INTERVAL", 15*time.Second); err != nil {
		return Client{}, err
	}
	if c.HeartbeatTimeout, err = duration("TABLESYNC_HEARTBEAT_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	if c.FlipDelay, err = duration("TABLESYNC_FLIP_DELAY", 150*time.Millisecond); err != nil {
		return Client{}, err
	}
	if c.DriftInterval, err = duration("TABLESYNC_DRIFT_INTERVAL", 0); err != nil {
		return Client{}, err
	}
	if c.Discover, err = boolean("TABLESYNC_DISCOVER", false); err != nil {
		return Client{}, err
	}
	if c.AuthorityURL == "" && !c.Discover {
		c.AuthorityURL = "ws://localhost:8080"
	}
	return c, nil
}

func LoadAuthority() (Authority, error) {
	a := Authority{
		Addr:        getenv("AUTHORITY_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("AUTHORITY_LOG_LEVEL", "info"),
	}
	var err error
	if a.Announce, err = boolean("AUTHORITY_ANNOUNCE", false); err != nil {
		return Authority{}, err
	}
	return a, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return d, nil
}

func boolean(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return b, nil
}
