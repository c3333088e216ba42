package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort              = 3318
	DefaultRelayInterval     = 15 * time.Second
	DefaultRelayMaxAttempts  = 8
	DefaultReconcileSchedule = "@every 10m"
	DefaultExpireSchedule    = "@every 1m"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	AdminKeySalt string

	// External ledger
	LedgerBackend   string
	PolygonRPC      string
	PrivateKey      string
	ContractAddress string

	// Background work
	RelayInterval     time.Duration
	RelayMaxAttempts  int
	ReconcileSchedule string
	ExpireSchedule    string
}

// ParseFlags reads flags with environment fallback. A .env file in the
// working directory is loaded first if present; flags always win.
func ParseFlags(args []string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config

	fs := flag.NewFlagSet("chainballot", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")

	fs.StringVar(&cfg.LedgerBackend, "ledger", "", "External ledger backend (memory or polygon)")
	fs.StringVar(&cfg.PolygonRPC, "rpc", "", "Polygon JSON-RPC endpoint")
	fs.StringVar(&cfg.ContractAddress, "contract", "", "Voting contract address")

	fs.DurationVar(&cfg.RelayInterval, "relay-interval", 0, "Relay worker poll interval")
	fs.IntVar(&cfg.RelayMaxAttempts, "relay-max-attempts", 0, "Relay attempts before a write is marked failed")
	fs.StringVar(&cfg.ReconcileSchedule, "reconcile-schedule", "", "Cron spec for reconciliation (empty disables)")
	fs.StringVar(&cfg.ExpireSchedule, "expire-schedule", "", "Cron spec for the invite expiry sweep (empty disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = DefaultPort
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "sqlite"
		}
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	// Secrets - MUST be provided
	if cfg.AdminKeySalt == "" {
		cfg.AdminKeySalt = os.Getenv("ADMIN_KEY_SALT")
	}
	if cfg.AdminKeySalt == "" {
		return Config{}, errors.New("ADMIN_KEY_SALT required")
	}

	if err := cfg.parseLedger(); err != nil {
		return Config{}, err
	}
	if err := cfg.parseBackground(set); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg *Config) parseLedger() error {
	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = os.Getenv("LEDGER_BACKEND")
		if cfg.LedgerBackend == "" {
			cfg.LedgerBackend = "memory"
		}
	}
	if cfg.PolygonRPC == "" {
		cfg.PolygonRPC = os.Getenv("POLYGON_RPC")
	}
	if cfg.ContractAddress == "" {
		cfg.ContractAddress = os.Getenv("CONTRACT_ADDRESS")
	}
	// never accepted as a flag so it does not end up in shell history
	cfg.PrivateKey = os.Getenv("PRIVATE_KEY")

	switch cfg.LedgerBackend {
	case "memory":
	case "polygon":
		if cfg.PolygonRPC == "" || cfg.PrivateKey == "" || cfg.ContractAddress == "" {
			return errors.New("polygon ledger requires POLYGON_RPC, PRIVATE_KEY and CONTRACT_ADDRESS")
		}
	default:
		return fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
	}
	return nil
}

func (cfg *Config) parseBackground(set map[string]bool) error {
	if cfg.RelayInterval == 0 {
		cfg.RelayInterval = DefaultRelayInterval
		if v := os.Getenv("RELAY_INTERVAL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return errors.New("invalid RELAY_INTERVAL env variable")
			}
			cfg.RelayInterval = d
		}
	}
	if cfg.RelayInterval < 0 {
		return errors.New("relay interval must be positive")
	}

	if cfg.RelayMaxAttempts == 0 {
		cfg.RelayMaxAttempts = DefaultRelayMaxAttempts
		if v := os.Getenv("RELAY_MAX_ATTEMPTS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return errors.New("invalid RELAY_MAX_ATTEMPTS env variable")
			}
			cfg.RelayMaxAttempts = n
		}
	}
	if cfg.RelayMaxAttempts < 0 {
		return errors.New("relay max attempts must be positive")
	}

	// An explicitly empty schedule disables the job, so presence matters here.
	if !set["reconcile-schedule"] {
		cfg.ReconcileSchedule = envOr("RECONCILE_SCHEDULE", DefaultReconcileSchedule)
	}
	if !set["expire-schedule"] {
		cfg.ExpireSchedule = envOr("EXPIRE_SCHEDULE", DefaultExpireSchedule)
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
