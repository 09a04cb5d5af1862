// Package config loads and validates the run configuration of commands.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bassosimone/netharness"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration (e.g., NETHARNESS_CONTROLLER_PORT).
const EnvPrefix = "NETHARNESS"

// validate is the validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load loads the configuration from the defaults, the OPTIONAL YAML file
// at path and the environment, in increasing order of precedence, and
// validates the result.
func Load(path string) (*netharness.RunConfig, error) {
	v := viper.New()
	SetDefaults(v, netharness.DefaultRunConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
	}

	cfg := &netharness.RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: cannot decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers the values of cfg as viper defaults. Every key
// must have a default for environment overrides to work.
func SetDefaults(v *viper.Viper, cfg *netharness.RunConfig) {
	v.SetDefault("controller.command", cfg.Controller.Command)
	v.SetDefault("controller.bind_address", cfg.Controller.BindAddress)
	v.SetDefault("controller.port", cfg.Controller.Port)
	v.SetDefault("controller.ready_timeout", cfg.Controller.ReadyTimeout)
	v.SetDefault("controller.poll_interval", cfg.Controller.PollInterval)
	v.SetDefault("controller.grace_period", cfg.Controller.GracePeriod)

	v.SetDefault("topology_file", cfg.TopologyFile)
	v.SetDefault("results_dir", cfg.ResultsDir)
	v.SetDefault("hold", cfg.Hold)

	var pings []map[string]any
	for _, pair := range cfg.Probes.Pings {
		pings = append(pings, map[string]any{"source": pair.Source, "target": pair.Target})
	}
	v.SetDefault("probes.pings", pings)
	v.SetDefault("probes.ping_count", cfg.Probes.PingCount)
	v.SetDefault("probes.http_server", cfg.Probes.HTTPServer)
	v.SetDefault("probes.http_server_command", cfg.Probes.HTTPServerCommand)
	v.SetDefault("probes.http_port", cfg.Probes.HTTPPort)
	v.SetDefault("probes.http_sources", cfg.Probes.HTTPSources)
	v.SetDefault("probes.server_warmup", cfg.Probes.ServerWarmup)
	v.SetDefault("probes.concurrency", cfg.Probes.Concurrency)
	v.SetDefault("probes.capture", cfg.Probes.Capture)
}

// Validate checks the configuration constraints and returns a readable
// error describing the first violation.
func Validate(cfg *netharness.RunConfig) error {
	if cfg == nil {
		return errors.New("config: nil configuration")
	}
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, e := range verrs {
		field, param := e.Namespace(), e.Param()
		switch e.Tag() {
		case "required":
			return fmt.Errorf("config: %s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("config: %s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("config: %s: must not exceed %s", field, param)
		case "ltfield":
			return fmt.Errorf("config: %s: must be less than %s", field, param)
		default:
			return fmt.Errorf("config: %s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
