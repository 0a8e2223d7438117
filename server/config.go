package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the server settings. Every flag falls back to an environment
// variable, then to a built-in default.
type Config struct {
	Addr       string
	ClientDir  string
	DBPath     string
	PublicURL  string
	MsgRate    float64
	BcryptCost int
}

func parseConfig(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", getEnvDefault("ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.ClientDir, "client", getEnvDefault("CLIENT_DIR", ""), "Path to client directory (default: ../client)")
	fs.StringVar(&cfg.DBPath, "db", getEnvDefault("DB_PATH", "yavin.db"), "SQLite database path (\"\" disables persistence)")
	fs.StringVar(&cfg.PublicURL, "public-url", getEnvDefault("PUBLIC_URL", ""), "Base URL used in invite links")
	fs.Float64Var(&cfg.MsgRate, "rate", getEnvFloat("MSG_RATE", defaultMsgRate), "Per-connection inbound messages per second")
	fs.IntVar(&cfg.BcryptCost, "bcrypt-cost", int(getEnvFloat("BCRYPT_COST", 10)), "bcrypt cost for new passwords")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ClientDir == "" {
		exe, _ := os.Executable()
		cfg.ClientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(cfg.ClientDir); os.IsNotExist(err) {
			cfg.ClientDir = "../client"
		}
	}
	return cfg, nil
}

func (c Config) String() string {
	return "addr=" + c.Addr + " client=" + c.ClientDir + " db=" + c.DBPath +
		" rate=" + strconv.FormatFloat(c.MsgRate, 'f', -1, 64)
}
