package fixtures

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/pkg/errors"
)

const sample = `
delay: 0s
investment:
  default:
    overall_score: 50
  by_key:
    AAPL:
      overall_score: 80
      confidence: high
  fail: [BAD]
risk:
  default:
    overall_risk_score: 20
    risk_level: low
portfolio:
  default:
    overall_score: 60
profiles:
  u1:
    risk_tolerance: aggressive
portfolios:
  u1:
    cash: 100
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name   string
		ticker string
		score  any
	}{
		{name: "by key", ticker: "AAPL", score: 80},
		{name: "lower case key", ticker: "aapl", score: 80},
		{name: "default", ticker: "TSLA", score: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.AnalyzeStock(ctx, tt.ticker, "technical", "1d", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.score, res["overall_score"])
			assert.Equal(t, tt.ticker, res["ticker"])
		})
	}

	_, err = f.AnalyzeStock(ctx, "BAD", "technical", "1d", nil)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	risk, err := f.AnalyzeRisk(ctx, "AAPL", []string{"news"}, "1d")
	require.NoError(t, err)
	assert.Equal(t, "low", risk["risk_level"])

	profile, err := f.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "aggressive", profile["risk_tolerance"])

	missing, err := f.GetUserProfile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoad(t *testing.T) {
	def, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, def.Profiles)

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, f.Portfolios, "u1")

	_, err = Parse([]byte("investment: [not, a, map]"))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestDelayHonoursContext(t *testing.T) {
	f := Default()
	f.Delay = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.AnalyzeRisk(ctx, "AAPL", nil, "1d")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
