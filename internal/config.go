package internal

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the server configuration, read from the environment.
type Config struct {
	Host              string        `env:"HOST,default=127.0.0.1" validate:"required"`
	Port              int           `env:"PORT,default=8080" validate:"min=0,max=65535"`
	WebSocketPort     int           `env:"WS_PORT,default=0" validate:"min=0,max=65535"`
	BusCapacity       int           `env:"BUS_CAPACITY,default=100" validate:"min=1"`
	MaxLineLength     int           `env:"MAX_LINE_LENGTH,default=1024" validate:"min=16"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s" validate:"min=0"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"min=0"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s" validate:"min=0"`
	CensoredDir       string        `env:"CENSORED_DIR"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*" validate:"required"`
}

// LoadConfig reads the process environment and validates the result.
func LoadConfig() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return err
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WebSocketAddress is empty when the websocket transport is disabled.
func (c Config) WebSocketAddress() string {
	if c.WebSocketPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.WebSocketPort))
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
