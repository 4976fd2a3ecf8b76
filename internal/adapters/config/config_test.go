package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/pkg/errors"
)

func validConfig() Config {
	return Config{
		A2A: A2AConfig{
			Transport:         "websocket",
			PeerStore:         "memory",
			InvestmentAgentID: "investment_agent_001",
			RiskAgentID:       "risk_agent_001",
			PortfolioAgentID:  "portfolio_agent_001",
			InvestmentPort:    8766,
			RiskPort:          8767,
			PortfolioPort:     8768,
			RequestTimeout:    30 * time.Second,
			CleanupMaxAge:     5 * time.Minute,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "nats", mutate: func(c *Config) { c.A2A.Transport = "nats" }},
		{name: "unknown transport", mutate: func(c *Config) { c.A2A.Transport = "carrier_pigeon" }, wantErr: errors.ErrUnknownTransport},
		{name: "unknown peer store", mutate: func(c *Config) { c.A2A.PeerStore = "etcd" }, wantErr: errors.ErrInvalidInput},
		{name: "shared port", mutate: func(c *Config) { c.A2A.RiskPort = c.A2A.InvestmentPort }, wantErr: errors.ErrInvalidInput},
		{name: "port out of range", mutate: func(c *Config) { c.A2A.PortfolioPort = 70000 }, wantErr: errors.ErrInvalidInput},
		{name: "zero timeout", mutate: func(c *Config) { c.A2A.RequestTimeout = 0 }, wantErr: errors.ErrInvalidInput},
		{name: "cleanup shorter than timeout", mutate: func(c *Config) { c.A2A.CleanupMaxAge = time.Second }, wantErr: errors.ErrInvalidInput},
		{name: "empty agent id", mutate: func(c *Config) { c.A2A.RiskAgentID = "" }, wantErr: errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("A2A_TRANSPORT", "local")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.A2A.Transport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.A2A.RequestTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.True(t, cfg.A2A.SelfConnect)
}
