// Package config loads sequencer settings from config file, environment
// variables and flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Module            string
	FeedURL           string
	EventsFile        string
	ChainNet          string
	GasPrice          string
	FeeOn             bool
	Decimals          map[string]int
	SnapshotDepth     uint64
	SnapshotEvery     int64
	BatchSize         int
	PollInterval      time.Duration
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	PGDSN             string
	Out               string
	VerifierURL       string
	InscribeURL       string
	CommitMaxFuncs    int
	CommitMaxAge      time.Duration
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEQUENCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-net", "mainnet")
	v.SetDefault("gas-price", "0")
	v.SetDefault("fee-on", true)
	v.SetDefault("snapshot-depth", uint64(12))
	v.SetDefault("snapshot-every", int64(1000))
	v.SetDefault("batch-size", 500)
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("out", "./data/changes.jsonl")
	v.SetDefault("commit-max-funcs", 50)
	v.SetDefault("commit-max-age", 5*time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	decimals, err := getIntMap(v, "decimals")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Module:            v.GetString("module"),
		FeedURL:           v.GetString("feed-url"),
		EventsFile:        v.GetString("events-file"),
		ChainNet:          v.GetString("chain-net"),
		GasPrice:          v.GetString("gas-price"),
		FeeOn:             v.GetBool("fee-on"),
		Decimals:          decimals,
		SnapshotDepth:     v.GetUint64("snapshot-depth"),
		SnapshotEvery:     v.GetInt64("snapshot-every"),
		BatchSize:         v.GetInt("batch-size"),
		PollInterval:      v.GetDuration("poll-interval"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		PGDSN:             v.GetString("pg-dsn"),
		Out:               v.GetString("out"),
		VerifierURL:       v.GetString("verifier-url"),
		InscribeURL:       v.GetString("inscribe-url"),
		CommitMaxFuncs:    v.GetInt("commit-max-funcs"),
		CommitMaxAge:      v.GetDuration("commit-max-age"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// getIntMap reads a tick=decimals map, either from a structured config
// section or a "tick=n,tick=n" string.
func getIntMap(v *viper.Viper, key string) (map[string]int, error) {
	if !v.IsSet(key) {
		return map[string]int{}, nil
	}

	raw := map[string]string{}
	switch typed := v.Get(key).(type) {
	case map[string]string:
		raw = typed
	case map[string]interface{}:
		for k, val := range typed {
			raw[k] = fmt.Sprintf("%v", val)
		}
	case string:
		raw = parseStringMap(typed)
	}

	out := make(map[string]int, len(raw))
	for tick, s := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad decimals for tick %q: %q", tick, s)
		}
		out[tick] = n
	}
	return out, nil
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
