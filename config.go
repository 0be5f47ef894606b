package gmail

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config selects an authentication scheme and its credentials.
type Config struct {
	Scheme   string
	Username string
	Options  Options
	Host     string
	Port     int
}

var envOptions = map[string]string{
	"GMAIL_PASSWORD":              OptPassword,
	"GMAIL_OAUTH_TOKEN":           OptToken,
	"GMAIL_OAUTH_TOKEN_SECRET":    OptSecret,
	"GMAIL_OAUTH_CONSUMER_KEY":    OptConsumerKey,
	"GMAIL_OAUTH_CONSUMER_SECRET": OptConsumerSecret,
	"GMAIL_ACCESS_TOKEN":          OptAccessToken,
	"GMAIL_DOMAIN":                OptDomain,
}

// LoadConfig reads configuration from environment variables and a .env
// file in the working directory, if there is one.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scheme:   os.Getenv("GMAIL_AUTH_SCHEME"),
		Username: os.Getenv("GMAIL_USERNAME"),
		Options:  Options{},
		Host:     os.Getenv("GMAIL_IMAP_HOST"),
		Port:     IMAPPort,
	}
	if cfg.Scheme == "" {
		cfg.Scheme = SchemePlain
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("GMAIL_USERNAME environment variable is required")
	}
	if cfg.Host == "" {
		cfg.Host = IMAPHost
	}
	if p := os.Getenv("GMAIL_IMAP_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("GMAIL_IMAP_PORT %q is not a valid port", p)
		}
		cfg.Port = port
	}

	for env, opt := range envOptions {
		if v := os.Getenv(env); v != "" {
			cfg.Options[opt] = v
		}
	}
	return cfg, nil
}

// NewClient builds an unconnected client for the configured scheme.
func (cfg *Config) NewClient(reg *Registry) (*Client, error) {
	s, err := reg.New(cfg.Scheme, cfg.Username, cfg.Options)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(s, NewConn(cfg.Host, cfg.Port)), nil
}
