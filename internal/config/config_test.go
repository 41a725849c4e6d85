package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, `
# comment line is ignored

listen_addr=:8443
ice_servers=stun:stun.l.google.com:19302,turn:turn.example.com|alice|secret|password
node_alias=node-a
node_public_url=https://node-a.example.com
node_admin_token=tok-123
node_pub_max=16
node_sub_max=64
cluster_manager_url=https://manager.example.com
recorder_enabled=true
recorder_storage_dir=/var/lib/mediacluster/recordings
recorder_segment_secs=6
redis_addr=127.0.0.1:6379
redis_db=2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8443", cfg.Server.ListenAddr)
	require.Len(t, cfg.Server.ICEServers, 2)
	require.Equal(t, "stun:stun.l.google.com:19302", cfg.Server.ICEServers[0].URL)
	require.Equal(t, "turn:turn.example.com", cfg.Server.ICEServers[1].URL)
	require.Equal(t, "alice", cfg.Server.ICEServers[1].Username)
	require.Equal(t, "secret", cfg.Server.ICEServers[1].Credential)
	require.Equal(t, "password", cfg.Server.ICEServers[1].CredentialType)

	require.Equal(t, "node-a", cfg.Node.Alias)
	require.Equal(t, "https://node-a.example.com", cfg.Node.PublicURL)
	require.Equal(t, "tok-123", cfg.Node.AdminToken)
	require.Equal(t, uint32(16), cfg.Node.PubMax)
	require.Equal(t, uint32(64), cfg.Node.SubMax)

	require.Equal(t, "https://manager.example.com", cfg.Cluster.ManagerURL)

	require.True(t, cfg.Recorder.Enabled)
	require.Equal(t, "/var/lib/mediacluster/recordings", cfg.Recorder.StorageDir)
	require.Equal(t, 6, cfg.Recorder.SegmentSecs)

	require.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "node_alias=solo\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":7777", cfg.Server.ListenAddr)
	require.Equal(t, 10, cfg.Recorder.SegmentSecs)
	require.False(t, cfg.Recorder.Enabled)
}

func TestLoadDecodesPercentEscapedValues(t *testing.T) {
	path := writeTempConfig(t, "node_admin_token=tok%3Awith%3Acolons\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tok:with:colons", cfg.Node.AdminToken)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.Error(t, err)
}

func TestLoadRejectsRecorderEnabledWithoutStorageDir(t *testing.T) {
	path := writeTempConfig(t, "recorder_enabled=true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedIntField(t *testing.T) {
	path := writeTempConfig(t, "node_pub_max=not-a-number\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRequiresListenAddr(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
}
