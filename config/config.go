// Package config loads the YAML deployment configuration recognized by
// the CLI (§6 Configuration), grounded in the teacher's
// dynamodb/cmd/ddb/config.go loader shape: os.ReadFile plus
// yaml.Unmarshal into a struct with sensible zero-value defaults, no
// dedicated flag/env layer.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfig is wrapped by every error this package returns for a
// malformed or missing configuration file (§10.2 Error handling).
var ErrConfig = errors.New("config: invalid configuration")

// Config is the top-level deployment configuration (§6 Configuration
// (recognized options), §12.1 backup.on.shutdown, §12.2 per-topic merge).
type Config struct {
	BackupTimeS          int64 `yaml:"backup.time.s"`
	CommitTimeS          int64 `yaml:"commit.time.s"`
	CreateRecordsTrigger int64 `yaml:"create.records.trigger"`
	TotalLagTrigger      int64 `yaml:"total.lag.trigger"`

	// TopicsPrefixed and TopicPrefix together resolve §9's open question:
	// when true, TopicAlias strips a leading "<TopicPrefix>." before
	// correlating a physical topic name against a transaction envelope's
	// data_collections entries; when false, the physical topic name is
	// used unchanged as the alias.
	TopicsPrefixed bool   `yaml:"topics.prefixed"`
	TopicPrefix    string `yaml:"topic.prefix"`

	// TopicsDefault is the base configuration merged under every entry of
	// Topics (§12.2).
	TopicsDefault TopicConfig            `yaml:"topics.default"`
	Topics        map[string]TopicConfig `yaml:"topics"`

	// BackupOnShutdown mirrors the original's BACKUP_ON_SHUTDOWN constant
	// (§12.1): a graceful shutdown (the running build's context being
	// canceled) performs one final backup. It is only reachable once the
	// engine's Open has succeeded, so a failed startup never overwrites a
	// good backup with an empty store.
	BackupOnShutdown bool `yaml:"backup.on.shutdown"`

	State StateConfig `yaml:"state"`
}

// StateConfig configures the BadgerDB-backed state store's directories
// (§10.3).
type StateConfig struct {
	Dir       string `yaml:"dir"`
	BackupDir string `yaml:"backup.dir"`
}

// Default returns the documented defaults from §6's configuration table.
func Default() Config {
	return Config{
		BackupTimeS:          1800,
		CommitTimeS:          0,
		CreateRecordsTrigger: 250000,
		TotalLagTrigger:      2000,
		TopicsPrefixed:       true,
		State: StateConfig{
			Dir:       "state",
			BackupDir: "state/backup",
		},
	}
}

// Load reads and parses the YAML document at path, starting from Default
// so a partially specified file still yields a runnable configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CreateRecordsTrigger <= 0 {
		return fmt.Errorf("create.records.trigger must be positive, got %d", c.CreateRecordsTrigger)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must not be empty")
	}
	return nil
}
