package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"operatorkit/pkg/logging"
)

const (
	userConfigDir  = ".config/operatorkit"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/operatorkit.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath on top of the defaults. A
// missing file yields the defaults. The result is validated.
func LoadConfig(configPath string) (OperatorConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return OperatorConfig{}, NewConfigurationError(configFilePath, "io", err.Error())
	}

	config, err = Parse(data, config)
	if err != nil {
		var ce ConfigurationError
		if errors.As(err, &ce) {
			ce.FilePath = configFilePath
			return OperatorConfig{}, ce
		}
		return OperatorConfig{}, err
	}

	if errs := config.Validate(); errs.HasErrors() {
		return OperatorConfig{}, NewConfigurationErrorWithDetails(configFilePath, "validation", "invalid configuration", errs.Error(), errs.Suggestions())
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// Parse decodes data on top of base. Unknown fields are rejected.
func Parse(data []byte, base OperatorConfig) (OperatorConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	config := base
	if base.Retry.MaxAttempts != nil {
		// The decoder writes through pointers; keep base intact.
		attempts := *base.Retry.MaxAttempts
		config.Retry.MaxAttempts = &attempts
	}
	if err := dec.Decode(&config); err != nil {
		// An empty document leaves the defaults untouched.
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		ce := NewConfigurationError("", "parse", err.Error())
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			ce.Details = fmt.Sprintf("%d decoding errors", len(te.Errors))
		}
		return OperatorConfig{}, ce
	}
	return config, nil
}
