package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix namespaces the variables (ANOCHAT_PORT). Unprefixed names such as
// PORT are honoured as a fallback.
const Prefix = "anochat"

type Config struct {
	Host            string        `envconfig:"HOST"`
	Port            int           `envconfig:"PORT" default:"3000" validate:"min=1,max=65535"`
	StaticDir       string        `envconfig:"STATIC_DIR" default:"public"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"console" validate:"oneof=console json"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"32" validate:"min=1"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s" validate:"gt=0"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536" validate:"min=512"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	EventBuffer     int64         `envconfig:"EVENT_BUFFER" default:"256" validate:"min=0"`
}

// Load reads envFile (a missing file is fine) and then the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "load %s", envFile)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
