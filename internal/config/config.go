package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

const Prefix = "NOVA"

// Config is read from NOVA_* environment variables.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:43594"`
	// AdminAddr serves health, status and metrics. Empty disables it.
	AdminAddr string `envconfig:"ADMIN_ADDR" default:"127.0.0.1:9090"`

	// Schema is a yaml file; SchemaDB a sqlite database written by
	// `server schema import`. SchemaDB wins when both are set.
	Schema   string `envconfig:"SCHEMA" default:"schema.yaml"`
	SchemaDB string `envconfig:"SCHEMA_DB"`

	Workers          int           `envconfig:"WORKERS" default:"4"`
	TasksPerGroup    int           `envconfig:"TASKS_PER_GROUP" default:"50"`
	// WorkBacklog is how many work groups may wait for a worker before
	// the reactor blocks submitting more.
	WorkBacklog      int           `envconfig:"WORK_BACKLOG" default:"64"`
	InputBufferSize  int           `envconfig:"INPUT_BUFFER_SIZE" default:"5000"`
	OutputBufferSize int           `envconfig:"OUTPUT_BUFFER_SIZE" default:"5000"`
	ReadChunkSize    int           `envconfig:"READ_CHUNK_SIZE" default:"2048"`
	IncomingQueue    int           `envconfig:"INCOMING_QUEUE" default:"64"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`

	// CipherSeed enables opcode ciphering when set, as comma separated
	// integers.
	CipherSeed string `envconfig:"CIPHER_SEED"`

	// World seed handed to joining players, and how long lobby sessions
	// may stay silent.
	LobbySeed        int32         `envconfig:"LOBBY_SEED"`
	LobbyIdleTimeout time.Duration `envconfig:"LOBBY_IDLE_TIMEOUT" default:"10s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	MQTTBroker   string `envconfig:"MQTT_BROKER"`
	MQTTTopic    string `envconfig:"MQTT_TOPIC" default:"nova/sessions"`
	MQTTClientID string `envconfig:"MQTT_CLIENT_ID" default:"nova-server"`
	// MQTTQueue bounds the session events waiting for the broker.
	MQTTQueue    int    `envconfig:"MQTT_QUEUE" default:"256"`
}

func Load() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process(Prefix, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	var errs error

	if c.ListenAddr == "" {
		errs = multierror.Append(errs, errors.New("listen address is required"))
	}
	if c.Schema == "" && c.SchemaDB == "" {
		errs = multierror.Append(errs, errors.New("a schema file or database is required"))
	}
	for name, v := range map[string]int{
		"workers":            c.Workers,
		"tasks per group":    c.TasksPerGroup,
		"work backlog":       c.WorkBacklog,
		"input buffer size":  c.InputBufferSize,
		"output buffer size": c.OutputBufferSize,
		"read chunk size":    c.ReadChunkSize,
		"incoming queue":     c.IncomingQueue,
		"mqtt queue":         c.MQTTQueue,
	} {
		if v <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.WriteTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout))
	}
	if c.LobbyIdleTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("lobby idle timeout must be positive, got %s", c.LobbyIdleTimeout))
	}
	if _, err := c.Seed(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}

// Seed parses CipherSeed. A nil seed means no cipher.
func (c *Config) Seed() ([]uint32, error) {
	if strings.TrimSpace(c.CipherSeed) == "" {
		return nil, nil
	}
	parts := strings.Split(c.CipherSeed, ",")
	seed := make([]uint32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("could not parse cipher seed: %w", err)
		}
		seed = append(seed, uint32(v))
	}
	return seed, nil
}

func (c *Config) Level() (log.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
}
