// Package config defines the balancer's configuration surface: a struct
// populated by the standard library flag package, optionally overlaid by
// a YAML file, following the precedence config.go / config_test.go in the
// teacher establish (flags parsed, optional -config-file YAML unmarshaled
// onto the same struct, flags re-parsed so the command line still wins).
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config holds every operator-tunable setting for a balancer instance.
type Config struct {
	ConfigFile string `yaml:"-"`

	ExternalAddresses   *listFlag `yaml:"external-addresses"`
	InternalAddresses   *listFlag `yaml:"internal-addresses"`
	ManagementAddresses *listFlag `yaml:"management-addresses"`

	StateFile string `yaml:"state-file"`
	StaticDir string `yaml:"static-dir"`

	UID int `yaml:"uid"`
	GID int `yaml:"gid"`

	MaxRPS     float64   `yaml:"max-rps"`
	RPSHeaders *listFlag `yaml:"rps-headers"`

	EnforceRateLimits bool `yaml:"enforce-rate-limits"`

	SaveInterval        time.Duration `yaml:"save-interval"`
	MaintenanceInterval time.Duration `yaml:"maintenance-interval"`
	MonitoringInterval  time.Duration `yaml:"monitoring-interval"`

	ApplicationLogLevelString string `yaml:"application-log-level"`
	ApplicationLogLevel       log.Level `yaml:"-"`
}

// NewConfig returns a Config with its flags registered against
// flag.CommandLine and mantrid-equivalent defaults set.
func NewConfig() *Config {
	cfg := &Config{
		ExternalAddresses:   commaListFlag(),
		InternalAddresses:   commaListFlag(),
		ManagementAddresses: commaListFlag(),
		RPSHeaders:          commaListFlag(),
	}

	flag.StringVar(&cfg.ConfigFile, "config-file", "", "path to a YAML file overlaying these flags")
	flag.Var(cfg.ExternalAddresses, "external-address", "comma-separated bind addresses for the external listener")
	flag.Var(cfg.InternalAddresses, "internal-address", "comma-separated bind addresses for the internal listener")
	flag.Var(cfg.ManagementAddresses, "management-address", "comma-separated bind addresses for the management listener")
	flag.StringVar(&cfg.StateFile, "state-file", "", "path to the persisted routing/state snapshot")
	flag.StringVar(&cfg.StaticDir, "static-dir", "", "directory of operator-supplied static .http response bodies")
	flag.IntVar(&cfg.UID, "uid", 0, "user id to drop privileges to after binding listeners")
	flag.IntVar(&cfg.GID, "gid", 65535, "group id to drop privileges to after binding listeners")
	flag.Float64Var(&cfg.MaxRPS, "max-rps", 0, "maximum requests per second per rate-limit token; 0 disables limiting")
	flag.Var(cfg.RPSHeaders, "rps-headers", "comma-separated header names concatenated into the rate-limit token")
	flag.BoolVar(&cfg.EnforceRateLimits, "enforce-rate-limits", false, "return 420 instead of logging when a token exceeds its rate limit")
	flag.DurationVar(&cfg.SaveInterval, "save-interval", 10*time.Second, "interval between state file save attempts")
	flag.DurationVar(&cfg.MaintenanceInterval, "maintenance-interval", 2*time.Second, "interval between idle rate-counter GC sweeps")
	flag.DurationVar(&cfg.MonitoringInterval, "monitoring-interval", 10*time.Second, "interval between limited-counter rotations")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "info", "logrus level: debug, info, warn, error")

	return cfg
}

// Parse parses os.Args, optionally overlays a YAML config file, then
// re-parses so command-line flags still win over the file, matching the
// teacher's Config.Parse precedence.
func (c *Config) Parse() error {
	flag.Parse()

	if c.ConfigFile != "" {
		data, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("config: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: parsing config file: %w", err)
		}
		flag.Parse()
	}

	level, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return fmt.Errorf("config: invalid application-log-level %q: %w", c.ApplicationLogLevelString, err)
	}
	c.ApplicationLogLevel = level

	return nil
}
