package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SECRETS_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt_secret"), []byte("  s3cr3t\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blank"), []byte("\n"), 0o600))

	secret, err := ReadSecret("jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret)

	_, err = ReadSecret("blank")
	assert.Error(t, err)

	_, err = ReadSecret("absent")
	assert.ErrorIs(t, err, ErrSecretMissing)

	optional, err := ReadOptionalSecret("absent")
	require.NoError(t, err)
	assert.Empty(t, optional)
}
