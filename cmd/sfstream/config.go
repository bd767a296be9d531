package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sigmavirus24/sfstreaming/credentials"
	"github.com/sigmavirus24/sfstreaming/extensions/replay"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"

	replayStored = "stored"
	replayAll    = "all"
	replayNew    = "new"
)

type config struct {
	ClientID     string   `yaml:"client_id" env:"SFSTREAM_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"SFSTREAM_CLIENT_SECRET"`
	Username     string   `yaml:"username" env:"SFSTREAM_USERNAME"`
	Password     string   `yaml:"password" env:"SFSTREAM_PASSWORD"`
	RefreshToken string   `yaml:"refresh_token" env:"SFSTREAM_REFRESH_TOKEN"`
	Sandbox      bool     `yaml:"sandbox" env:"SFSTREAM_SANDBOX"`
	TokenURL     string   `yaml:"token_url" env:"SFSTREAM_TOKEN_URL"`
	Version      string   `yaml:"version" env:"SFSTREAM_VERSION"`
	Channels     []string `yaml:"channels" env:"SFSTREAM_CHANNELS"`
	Backend      string   `yaml:"backend" env:"SFSTREAM_BACKEND"`
	ReplayFrom   string   `yaml:"replay_from" env:"SFSTREAM_REPLAY_FROM"`
	LogLevel     string   `yaml:"log_level" env:"SFSTREAM_LOG_LEVEL"`
}

func defaultConfig() config {
	return config{
		Backend:    backendMemory,
		ReplayFrom: replayStored,
		LogLevel:   "info",
	}
}

// loadConfig reads the YAML file given by --config, then the environment,
// then the flags set on the command line. Later sources win.
func loadConfig(args []string) (config, error) {
	var flagged config
	fs := pflag.NewFlagSet("sfstream", pflag.ContinueOnError)
	path := fs.String("config", os.Getenv("SFSTREAM_CONFIG"), "path to a YAML configuration file")
	fs.StringVar(&flagged.ClientID, "client-id", "", "connected app consumer key")
	fs.StringVar(&flagged.ClientSecret, "client-secret", "", "connected app consumer secret")
	fs.StringVar(&flagged.Username, "username", "", "username for the password grant")
	fs.StringVar(&flagged.Password, "password", "", "password (and security token) for the password grant")
	fs.StringVar(&flagged.RefreshToken, "refresh-token", "", "refresh token; takes precedence over username and password")
	fs.BoolVar(&flagged.Sandbox, "sandbox", false, "authenticate against test.salesforce.com")
	fs.StringVar(&flagged.TokenURL, "token-url", "", "override the OAuth2 token endpoint")
	fs.StringVar(&flagged.Version, "version", "", "Salesforce API version used until one is discovered")
	fs.StringSliceVarP(&flagged.Channels, "channel", "c", nil, "channel to subscribe to, may be repeated")
	fs.StringVar(&flagged.Backend, "backend", "", "where replay ids are stored: memory or redis")
	fs.StringVar(&flagged.ReplayFrom, "replay-from", "", "where to resume: stored, all or new")
	fs.StringVar(&flagged.LogLevel, "log-level", "", "the level to log at")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := defaultConfig()
	if *path != "" {
		data, err := os.ReadFile(*path)
		if err != nil {
			return config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("parsing %s: %w", *path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return config{}, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "client-id":
			cfg.ClientID = flagged.ClientID
		case "client-secret":
			cfg.ClientSecret = flagged.ClientSecret
		case "username":
			cfg.Username = flagged.Username
		case "password":
			cfg.Password = flagged.Password
		case "refresh-token":
			cfg.RefreshToken = flagged.RefreshToken
		case "sandbox":
			cfg.Sandbox = flagged.Sandbox
		case "token-url":
			cfg.TokenURL = flagged.TokenURL
		case "version":
			cfg.Version = flagged.Version
		case "channel":
			cfg.Channels = flagged.Channels
		case "backend":
			cfg.Backend = flagged.Backend
		case "replay-from":
			cfg.ReplayFrom = flagged.ReplayFrom
		case "log-level":
			cfg.LogLevel = flagged.LogLevel
		}
	})
	cfg.Channels = append(cfg.Channels, fs.Args()...)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if len(c.Channels) == 0 {
		return errors.New("no channel to subscribe to")
	}
	switch c.Backend {
	case backendMemory, backendRedis:
	default:
		return fmt.Errorf("unknown replay backend %q", c.Backend)
	}
	switch c.ReplayFrom {
	case replayStored, replayAll, replayNew:
	default:
		return fmt.Errorf("unknown replay position %q", c.ReplayFrom)
	}
	return nil
}

func (c config) fetcher() (credentials.Fetcher, error) {
	cfg := credentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Sandbox:      c.Sandbox,
		TokenURL:     c.TokenURL,
	}
	if c.RefreshToken != "" {
		return credentials.NewRefreshToken(cfg, c.RefreshToken)
	}
	return credentials.NewPassword(cfg, c.Username, c.Password)
}

// preset is the replay position forced before subscribing, if any
func (c config) preset() (replay.ReplayID, bool) {
	switch strings.ToLower(c.ReplayFrom) {
	case replayAll:
		return replay.AllEvents, true
	case replayNew:
		return replay.NewEvents, true
	default:
		return 0, false
	}
}
