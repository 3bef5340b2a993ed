package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const defaultInviteTTL = 35 * time.Second

type Config struct {
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	InviteTTL      time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, base64Secret string, allowedOrigins []string, inviteTTL time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if inviteTTL <= 0 {
		inviteTTL = defaultInviteTTL
	}

	return &Config{
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		InviteTTL:      inviteTTL,
	}, nil
}
