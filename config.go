package netharness

//
// Run configuration
//

import "time"

// RunConfig is the configuration of a [Pipeline] run.
type RunConfig struct {
	// Controller configures the SDN controller process.
	Controller ControllerSettings `mapstructure:"controller" yaml:"controller"`

	// TopologyFile is the OPTIONAL YAML topology (default: built-in star).
	TopologyFile string `mapstructure:"topology_file" yaml:"topology_file" validate:"omitempty,file"`

	// Probes configures the probes.
	Probes ProbeSettings `mapstructure:"probes" yaml:"probes"`

	// ResultsDir is the directory where we write captures and metrics.
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir" validate:"required"`

	// Hold keeps the network up after probing until the context is done.
	Hold bool `mapstructure:"hold" yaml:"hold"`
}

// ControllerSettings configures the SDN controller process.
type ControllerSettings struct {
	Command      []string      `mapstructure:"command" yaml:"command" validate:"required,min=1,dive,required"`
	BindAddress  string        `mapstructure:"bind_address" yaml:"bind_address" validate:"required,ip"`
	Port         int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0,ltfield=ReadyTimeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period" validate:"gte=0"`
}

// ProbeSettings configures the probes.
type ProbeSettings struct {
	Pings             []PingPair    `mapstructure:"pings" yaml:"pings" validate:"dive"`
	PingCount         int           `mapstructure:"ping_count" yaml:"ping_count" validate:"min=1"`
	HTTPServer        string        `mapstructure:"http_server" yaml:"http_server"`
	HTTPServerCommand string        `mapstructure:"http_server_command" yaml:"http_server_command" validate:"required_with=HTTPServer"`
	HTTPPort          int           `mapstructure:"http_port" yaml:"http_port" validate:"min=1,max=65535"`
	HTTPSources       []string      `mapstructure:"http_sources" yaml:"http_sources"`
	ServerWarmup      time.Duration `mapstructure:"server_warmup" yaml:"server_warmup" validate:"gte=0"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1"`
	Capture           bool          `mapstructure:"capture" yaml:"capture"`
}

// DefaultRunConfig returns the default [RunConfig]: a POX learning switch
// controller on 127.0.0.1:6633 and the probes of the default star topology.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Controller: ControllerSettings{
			Command:      []string{"python3", "pox.py", "forwarding.l2_learning"},
			BindAddress:  "127.0.0.1",
			Port:         6633,
			ReadyTimeout: 15 * time.Second,
			PollInterval: time.Second,
			GracePeriod:  5 * time.Second,
		},
		TopologyFile: "",
		Probes: ProbeSettings{
			Pings: []PingPair{
				{Source: "h1", Target: "h2"},
				{Source: "h3", Target: "h4"},
			},
			PingCount:         4,
			HTTPServer:        "server",
			HTTPServerCommand: "python3 -m http.server 8000",
			HTTPPort:          8000,
			HTTPSources:       []string{"h1", "h2", "h3", "h4"},
			ServerWarmup:      time.Second,
			Concurrency:       1,
			Capture:           false,
		},
		ResultsDir: "results",
		Hold:       false,
	}
}

// ProbePlan returns the [ProbePlan] described by the settings.
func (ps *ProbeSettings) ProbePlan() *ProbePlan {
	return &ProbePlan{
		Pings:       append([]PingPair{}, ps.Pings...),
		PingCount:   ps.PingCount,
		HTTPSources: append([]string{}, ps.HTTPSources...),
		HTTPTarget:  ps.HTTPServer,
		HTTPPort:    ps.HTTPPort,
		Concurrency: ps.Concurrency,
	}
}
