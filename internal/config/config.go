package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
}

// envSpec is the PARLEY_-prefixed environment surface; flags may override
// individual values before NewConfig validates them.
type envSpec struct {
	ServerAddr     string   `envconfig:"ADDR" default:"localhost:8000"`
	DatabaseDSN    string   `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningSecret  string   `envconfig:"SIGNING_KEY"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

func FromEnv() (serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, err error) {
	var spec envSpec
	if err = envconfig.Process("parley", &spec); err != nil {
		return "", "", "", nil, fmt.Errorf("process env: %w", err)
	}

	return spec.ServerAddr, spec.DatabaseDSN, spec.SigningSecret, spec.AllowedOrigins, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
