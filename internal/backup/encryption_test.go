package backup

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionDisabledPassthrough(t *testing.T) {
	em := NewEncryptionManager(&EncryptionConfig{Enabled: false})

	data := []byte("plaintext archive")
	sealed, err := em.Seal(data)
	require.NoError(t, err)
	assert.Equal(t, data, sealed)

	opened, err := em.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, data, opened)
	assert.Equal(t, "NONE", em.Algorithm())
}

func TestSealOpenPassphrase(t *testing.T) {
	em := NewEncryptionManager(&EncryptionConfig{
		Enabled:    true,
		KeySource:  "passphrase",
		Passphrase: "correct horse battery staple",
	})

	data := []byte("archive bytes to protect")
	sealed, err := em.Seal(data)
	require.NoError(t, err)
	assert.NotEqual(t, data, sealed)
	assert.Greater(t, len(sealed), len(data), "sealed form carries salt, nonce and tag")

	opened, err := em.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, data, opened)

	// A different passphrase must not open it
	wrong := NewEncryptionManager(&EncryptionConfig{
		Enabled:    true,
		KeySource:  "passphrase",
		Passphrase: "wrong",
	})
	_, err = wrong.Open(sealed)
	assert.Error(t, err)
}

func TestSealOpenEnvKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv("DATAVAULT_TEST_KEY", hex.EncodeToString(key))

	em := NewEncryptionManager(&EncryptionConfig{
		Enabled:   true,
		KeySource: "env",
		KeyEnvVar: "DATAVAULT_TEST_KEY",
	})

	data := []byte("env keyed payload")
	sealed, err := em.Seal(data)
	require.NoError(t, err)

	opened, err := em.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, data, opened)
}

func TestSealOpenFileKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "backup.key")
	require.NoError(t, SaveKeyToFile(key, keyPath))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	em := NewEncryptionManager(&EncryptionConfig{
		Enabled:   true,
		KeySource: "file",
		KeyPath:   keyPath,
	})

	sealed, err := em.Seal([]byte("file keyed payload"))
	require.NoError(t, err)
	opened, err := em.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("file keyed payload"), opened)
}

func TestOpenRejectsTampering(t *testing.T) {
	em := NewEncryptionManager(&EncryptionConfig{
		Enabled:    true,
		KeySource:  "passphrase",
		Passphrase: "secret",
	})

	sealed, err := em.Seal([]byte("integrity protected"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = em.Open(sealed)
	assert.Error(t, err, "GCM must reject a flipped ciphertext byte")
}

func TestEncryptionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  EncryptionConfig
		wantErr bool
	}{
		{"disabled needs nothing", EncryptionConfig{}, false},
		{"env without var", EncryptionConfig{Enabled: true, KeySource: "env"}, true},
		{"file without path", EncryptionConfig{Enabled: true, KeySource: "file"}, true},
		{"passphrase ok", EncryptionConfig{Enabled: true, KeySource: "passphrase"}, false},
		{"unknown source", EncryptionConfig{Enabled: true, KeySource: "vault"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncryptedBackupRoundTrip(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"ETH": 10}`)

	manager, err := NewManager(&Config{
		BackupDir: filepath.Join(root, "backups"),
		DataPaths: []string{dataDir},
		Encryption: EncryptionConfig{
			Enabled:    true,
			KeySource:  "passphrase",
			Passphrase: "hunter2",
		},
	}, nil)
	require.NoError(t, err)

	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.BackupPath, EncryptedExtension)

	// The manifest is reachable through the sealed artifact
	manifest, err := manager.GetBackupManifest(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/positions.json"}, manifest.Files)

	verification := manager.VerifyBackup(result.BackupPath)
	assert.True(t, verification.IsValid, "%v", verification.Errors)
}
