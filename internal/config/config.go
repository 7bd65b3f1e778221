// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport names.
const (
	TransportLocal = "local"
	TransportGRPC  = "grpc"
	TransportNATS  = "nats"
)

// Config holds all configuration for the leader, worker and history binaries.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Processes        int           `mapstructure:"processes" validate:"gte=1"`
	Samples          int           `mapstructure:"samples" validate:"gte=1"`
	Rule             string        `mapstructure:"rule" validate:"oneof=midpoint simpson gauss"`
	Transport        string        `mapstructure:"transport" validate:"oneof=local grpc nats"`
	RoundTripTimeout time.Duration `mapstructure:"round_trip_timeout" validate:"gte=0"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	Pool             string        `mapstructure:"pool" validate:"required,max=128"`

	// Rank is this worker's rank. Ignored by the leader, which is always rank 0.
	Rank           int      `mapstructure:"rank" validate:"gte=0"`
	WorkerAddrs    []string `mapstructure:"worker_addrs" validate:"dive,hostname_port"`
	GrpcListenAddr string   `mapstructure:"grpc_listen_addr"`
	// AdvertiseAddr is the address a grpc worker registers in etcd. Empty means
	// the host name joined with the port of GrpcListenAddr.
	AdvertiseAddr string `mapstructure:"advertise_addr" validate:"omitempty,hostname_port"`

	EtcdEndpoints   []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout     time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	RegistrationTTL time.Duration `mapstructure:"registration_ttl" validate:"gte=1s"`
	DiscoveryWait   time.Duration `mapstructure:"discovery_wait" validate:"gt=0"`

	NatsURL           string `mapstructure:"nats_url"`
	NatsSubjectPrefix string `mapstructure:"nats_subject_prefix" validate:"required"`

	HttpListenAddr    string `mapstructure:"http_listen_addr"`
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`
	TracingEnabled    bool   `mapstructure:"tracing_enabled"`
}

// UsesEtcd reports whether etcd endpoints are configured.
func (c *Config) UsesEtcd() bool {
	return len(c.EtcdEndpoints) > 0
}

var validate = validator.New()

// Validate checks the fields shared by every role.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on the '%s' tag", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateLeader adds the leader-only constraints.
func (c *Config) ValidateLeader() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Transport == TransportGRPC && !c.UsesEtcd() && len(c.WorkerAddrs) != c.Processes-1 {
		return fmt.Errorf("invalid configuration: grpc transport without etcd needs %d worker_addrs, got %d",
			c.Processes-1, len(c.WorkerAddrs))
	}
	if c.Transport == TransportNATS && c.NatsURL == "" {
		return fmt.Errorf("invalid configuration: nats transport needs nats_url")
	}
	return nil
}

// ValidateWorker adds the worker-only constraints.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Rank < 1 {
		return fmt.Errorf("invalid configuration: worker rank must be at least 1, got %d", c.Rank)
	}
	switch c.Transport {
	case TransportGRPC:
		if c.GrpcListenAddr == "" {
			return fmt.Errorf("invalid configuration: grpc worker needs grpc_listen_addr")
		}
	case TransportNATS:
		if c.NatsURL == "" {
			return fmt.Errorf("invalid configuration: nats transport needs nats_url")
		}
	default:
		return fmt.Errorf("invalid configuration: workers run over grpc or nats, not %q", c.Transport)
	}
	return nil
}

// Flags returns the command line flags shared by the binaries. Flag names match
// configuration keys so they can be bound directly.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default: ./configs/config.yaml or ./config.yaml)")
	fs.Int("processes", 4, "total process count including the leader")
	fs.Int("samples", 16, "number of sample intervals of [0,1]")
	fs.String("rule", "gauss", "per-interval quadrature rule: midpoint, simpson or gauss")
	fs.String("transport", TransportLocal, "link between leader and workers: local, grpc or nats")
	fs.Int("rank", 0, "worker rank (1..processes-1)")
	fs.String("grpc_listen_addr", ":50052", "address a grpc worker listens on")
	fs.String("http_listen_addr", ":8080", "address the history API listens on")
	fs.String("metrics_listen_addr", "", "address to expose /metrics on; empty disables")
	return fs
}

// Load loads configuration from defaults, a config file, QUAD_* environment
// variables and fs, in increasing order of precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("processes", 4)
	v.SetDefault("samples", 16)
	v.SetDefault("rule", "gauss")
	v.SetDefault("transport", TransportLocal)
	v.SetDefault("round_trip_timeout", "0s")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("pool", "default")
	v.SetDefault("rank", 0)
	v.SetDefault("worker_addrs", []string{})
	v.SetDefault("grpc_listen_addr", ":50052")
	v.SetDefault("advertise_addr", "")
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("registration_ttl", "10s")
	v.SetDefault("discovery_wait", "30s")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "quadrature")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("metrics_listen_addr", "")
	v.SetDefault("tracing_enabled", false)

	v.SetEnvPrefix("QUAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults and env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
