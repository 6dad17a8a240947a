package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMtlsConfig(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: mtls
  cert_path: /etc/hub-link/cert.pem
  key_path: /etc/hub-link/key.pem
  ca_cert_path: /etc/hub-link/ca.pem
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AuthMtls, cfg.Auth.Type)
	assert.Equal(t, "/etc/hub-link/cert.pem", cfg.Auth.CertPath)
	assert.Equal(t, "wss://hub.example.com/device-socket/websocket", cfg.SocketURL())
}

func TestLoadSharedSecretConfig(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: shared_secret
  key: my-key
  secret: my-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AuthSharedSecret, cfg.Auth.Type)
	assert.Equal(t, "my-key", cfg.Auth.Key)
	assert.Equal(t, "my-secret", cfg.Auth.Secret)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: shared_secret
  key: my-key
  secret: my-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.HeartbeatIntervalSecs)
	assert.Equal(t, "/dev/mmcblk0", cfg.FwupDevpath)
	assert.Equal(t, "upgrade", cfg.FwupTask)
	assert.Equal(t, "/tmp/hub_link", cfg.DataDir)
}

func TestLoadMissingHostFails(t *testing.T) {
	path := writeConfigFile(t, `
identifier: device-001
auth:
  type: shared_secret
  key: my-key
  secret: my-secret
`)
	_, err := Load(path)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "INVALID_CONFIG", cerr.Code)
}

func TestLoadMissingIdentifierFails(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
auth:
  type: shared_secret
  key: my-key
  secret: my-secret
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadIncompleteMtlsFails(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: mtls
  cert_path: /etc/hub-link/cert.pem
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadUnknownAuthTypeFails(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: bogus
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadIdentifierCommandSatisfiesValidation(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier_command: "cat /etc/hostname"
auth:
  type: shared_secret
  key: my-key
  secret: my-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cat /etc/hostname", cfg.IdentifierCommand)
}

func TestEncryptDecryptSecretRoundtrip(t *testing.T) {
	ciphertext, err := EncryptSecret("passphrase", "super-secret-value")
	require.NoError(t, err)
	plaintext, err := DecryptSecret("passphrase", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", plaintext)
}

func TestLoadDecryptsEncPrefixedSecret(t *testing.T) {
	ciphertext, err := EncryptSecret("unit-test-passphrase", "my-secret")
	require.NoError(t, err)

	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: shared_secret
  key: my-key
  secret: "enc:`+ciphertext+`"
`)
	oldKey := os.Getenv(configKeyEnv)
	t.Cleanup(func() { os.Setenv(configKeyEnv, oldKey) })
	os.Setenv(configKeyEnv, "unit-test-passphrase")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-secret", cfg.Auth.Secret)
}

func TestLoadEncPrefixedSecretWithoutKeyFails(t *testing.T) {
	path := writeConfigFile(t, `
host: hub.example.com
identifier: device-001
auth:
  type: shared_secret
  key: my-key
  secret: "enc:abcd"
`)
	oldKey := os.Getenv(configKeyEnv)
	t.Cleanup(func() { os.Setenv(configKeyEnv, oldKey) })
	os.Unsetenv(configKeyEnv)

	_, err := Load(path)
	require.Error(t, err)
}
