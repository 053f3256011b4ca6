// Package config holds the server settings supplied by the hosting environment.
package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/erazemk/posodi/internal/model"
)

// Environment variables read by the CLI.
const (
	EnvAddr           = "POSODI_ADDR"
	EnvDB             = "POSODI_DB"
	EnvDeployment     = "POSODI_DEPLOYMENT"
	EnvNeighborhood   = "POSODI_NEIGHBORHOOD"
	EnvLog            = "POSODI_LOG"
	EnvServer         = "POSODI_SERVER"
	EnvBootstrapToken = "POSODI_BOOTSTRAP_TOKEN"
)

// Config is the server configuration.
type Config struct {
	Addr                string
	DBPath              string
	Deployment          string
	DefaultNeighborhood string
	LogPath             string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:                ":8080",
		DBPath:              "posodi.sqlite3",
		Deployment:          "default",
		DefaultNeighborhood: model.DefaultNeighborhood,
	}
}

var identifier = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}$`)

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path required"))
	}
	if !identifier.MatchString(c.Deployment) {
		errs = append(errs, fmt.Errorf("invalid deployment identifier %q", c.Deployment))
	}
	if !identifier.MatchString(c.DefaultNeighborhood) {
		errs = append(errs, fmt.Errorf("invalid neighborhood identifier %q", c.DefaultNeighborhood))
	}
	return errors.Join(errs...)
}
