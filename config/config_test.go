package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"pivotwatch/internal/marketdata/angel"
	"pivotwatch/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []Target{{Symbol: "XAUUSD", Timeframe: model.M5}}, cfg.Targets())
	assert.Equal(t, 3000, cfg.BarsToFetch)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 12, cfg.ZigZag.Depth)
	assert.Equal(t, 5.0, cfg.ZigZag.DeviationPoints)
	assert.Equal(t, 3, cfg.ZigZag.Backstep)
	require.Len(t, cfg.CompiledPatterns(), 1)
	assert.Equal(t, "HL,HH,LL,LH,LL", cfg.CompiledPatterns()[0].Key())
	assert.Equal(t, 10, cfg.BufferSize)
	assert.Equal(t, SourceSQLite, cfg.Source.Type)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pivotwatch.yaml", `
watches:
  - {symbol: EURUSD, timeframe: m15}
  - {symbol: XAUUSD, timeframe: H1}
bars_to_fetch: 500
poll_interval: 1m
zigzag:
  depth: 8
patterns:
  - [HH, HL]
  - [LL, LH, LL]
buffer_size: 6
source:
  type: SQLite
  sqlite_path: /tmp/bars.db
notify:
  ws: {enabled: true}
  journal: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{Symbol: "EURUSD", Timeframe: model.M15},
		{Symbol: "XAUUSD", Timeframe: model.H1},
	}, cfg.Targets())
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 8, cfg.ZigZag.Depth)
	assert.Equal(t, 5.0, cfg.ZigZag.DeviationPoints, "unset fields keep their defaults")
	require.Len(t, cfg.CompiledPatterns(), 2)
	assert.Equal(t, "LL,LH,LL", cfg.CompiledPatterns()[1].Key())
	assert.Equal(t, SourceSQLite, cfg.Source.Type)
	assert.Equal(t, "/ws", cfg.Notify.WS.Path)
	assert.Equal(t, "/tmp/bars.db", cfg.Notify.JournalPath)
}

func TestLoadJSONWithLegacyFields(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "symbol": "GBPUSD",
  "timeframe": "M1",
  "poll_interval_sec": 10,
  "zigzag": {"depth": 5, "deviation": 3, "backstep": 2},
  "patterns": [["HL", "HH"]]
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []Target{{Symbol: "GBPUSD", Timeframe: model.M1}}, cfg.Targets())
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 3.0, cfg.ZigZag.DeviationPoints)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Notify.WebhookURL)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
watches:
  - {symbol: EURUSD, timeframe: M7}
  - {symbol: "", timeframe: M5}
zigzag: {depth: -1}
patterns:
  - [HH, XX]
  - []
buffer_size: 2
source: {type: csv}
notify:
  telegram: {bot_token: abc}
`)
	_, err := Load(path)
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.GreaterOrEqual(t, len(errs), 6)
	msg := err.Error()
	for _, want := range []string{"watches[0]", "watches[1]", "depth", "patterns[0]", "patterns[1]", "source.type", "telegram"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestValidatePatternLongerThanBuffer(t *testing.T) {
	cfg := Default()
	cfg.BufferSize = 3
	cfg.normalize()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can never fit a buffer of 3")
}

func TestValidateAngel(t *testing.T) {
	cfg := Default()
	cfg.Watches = []Watch{{Symbol: "SBIN-EQ", Timeframe: "H4"}, {Symbol: "INFY-EQ", Timeframe: "M5"}}
	cfg.Source = SourceConfig{Type: SourceAngel, Angel: angelConfig()}
	cfg.normalize()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "H4")
	assert.Contains(t, err.Error(), "no symbol token for INFY-EQ")

	cfg.Watches = []Watch{{Symbol: "SBIN-EQ", Timeframe: "M5"}}
	require.NoError(t, cfg.Validate())
}

func TestValidateDuplicateWatch(t *testing.T) {
	cfg := Default()
	cfg.Watches = []Watch{{Symbol: "EURUSD", Timeframe: "M5"}, {Symbol: "EURUSD", Timeframe: "m5"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate watch EURUSD/M5")
}

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Targets(), 1)
	assert.Equal(t, "XAUUSD/M5", cfg.Targets()[0].String())

	// a second call must not duplicate the legacy watch
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Watches, 1)
}

func TestValidateSession(t *testing.T) {
	cfg := Default()
	cfg.Session.Open = "09:15"
	cfg.Session.Close = "nope"
	require.Error(t, cfg.Validate())

	cfg.Session.Close = "15:30"
	require.NoError(t, cfg.Validate())
}

func angelConfig() angel.Config {
	return angel.Config{
		APIKey:     "key",
		ClientCode: "A123",
		Password:   "1234",
		TOTPSecret: "JBSWY3DPEHPK3PXP",
		Tokens:     map[string]string{"SBIN-EQ": "3045"},
	}
}
