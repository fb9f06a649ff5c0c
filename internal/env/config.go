package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// Addr is the work queue server, host:port
	Addr string `env:"BEAN_ADDR,default=127.0.0.1:11300"`

	Debug     bool `env:"BEAN_DEBUG"`
	DebugHTTP bool `env:"BEAN_DEBUG_HTTP"`

	DialTimeout time.Duration `env:"BEAN_DIAL_TIMEOUT,default=5s"`
}

// LoadConfig reads the configuration from the environment. Variables in
// .env.local, when it exists, are loaded first but never override ones that
// are already set.
func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
