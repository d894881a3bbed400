package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.Equal(t, DefaultLoginPort, cfg.GetLogin().Port)
	assert.FileExists(t, cfg.Path())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"login":{"ip":"10.1.1.1","username":"tester"},"network":{"packets_per_tick":10}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	login := cfg.GetLogin()
	assert.Equal(t, "10.1.1.1", login.IP)
	assert.Equal(t, "tester", login.Username)
	assert.Equal(t, DefaultLoginPort, login.Port, "missing fields keep defaults")
	assert.Equal(t, DefaultClientVersion, login.ClientVersion)
	assert.Equal(t, 10, cfg.GetNetwork().PacketsPerTick)
	assert.Equal(t, 3000, cfg.GetReconnect().RelayTimeoutMs)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0600))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestPasswordOverrideIsNotSaved(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	cfg.SetPasswordOverride("hunter2")
	assert.Equal(t, "hunter2", cfg.Password())
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	var decoded map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, has := decoded["login"]["password"]
	assert.False(t, has)
}

func TestUpdateField(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdateField("reconnect", "enabled", true))
	assert.True(t, cfg.GetReconnect().Enabled)

	require.NoError(t, cfg.UpdateField("network", "packets_per_tick", 40))
	assert.Equal(t, 40, cfg.GetNetwork().PacketsPerTick)

	assert.Error(t, cfg.UpdateField("bogus", "x", 1))
	assert.Error(t, cfg.UpdateField("login", "nope", 1))
	assert.Error(t, cfg.UpdateField("network", "packets_per_tick", "many"))
}

func TestFieldRoundTripsThroughUpdate(t *testing.T) {
	cfg := DefaultConfig()

	v, err := cfg.Field("network", "packets_per_tick")
	require.NoError(t, err)
	assert.Equal(t, float64(25), v)

	require.NoError(t, cfg.UpdateField("network", "packets_per_tick", 0))
	require.NoError(t, cfg.UpdateField("network", "packets_per_tick", v))
	assert.Equal(t, 25, cfg.GetNetwork().PacketsPerTick)

	_, err = cfg.Field("login", "nope")
	assert.Error(t, err)
	_, err = cfg.Field("bogus", "x")
	assert.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestValidateCatchesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Login.Port = 0
	cfg.Login.ClientVersion = "seven"
	cfg.Reconnect.RelayAttempts = 0
	cfg.Network.PacketsPerTick = 0
	cfg.Telemetry.Enabled = true
	cfg.History.CleanupTime = "4am"

	result := Validate(cfg)
	assert.False(t, result.IsValid())

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"login.port", "login.client_version", "reconnect.relay_attempts",
		"network.packets_per_tick", "telemetry.broker_url", "history.cleanup_time",
	} {
		assert.True(t, fields[f], "expected error for %s", f)
	}
}

func TestValidateWarnsOnLowReconnectTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reconnect.Enabled = true
	cfg.Reconnect.ReconnectTimeMs = 500

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	require.NotEmpty(t, result.Warnings)

	found := false
	for _, w := range result.Warnings {
		found = found || w.Field == "reconnect.reconnect_time_ms"
	}
	assert.True(t, found)
}

func TestSetupWizard(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	answers := strings.Join([]string{
		"192.168.0.10", // address
		"",             // port
		"",             // version
		"yes",          // encryption
		"player",       // account
		"pw",           // password
		"no",           // store password
		"",             // auto login
		"yes",          // reconnect
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	login := cfg.GetLogin()
	assert.Equal(t, "192.168.0.10", login.IP)
	assert.Equal(t, DefaultLoginPort, login.Port)
	assert.True(t, login.Encryption)
	assert.Equal(t, "player", login.Username)
	assert.Empty(t, login.Password)
	assert.Equal(t, "pw", cfg.Password())
	assert.True(t, cfg.GetReconnect().Enabled)
	assert.Contains(t, out.String(), "Configuration saved")
}
