package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSecretsDir = "/run/secrets"

// ErrSecretMissing файл секрета отсутствует.
var ErrSecretMissing = errors.New("secret file is missing")

// SecretsDir каталог Docker Secrets, переопределяется через SECRETS_DIR.
func SecretsDir() string {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return dir
	}
	return defaultSecretsDir
}

// ReadSecret читает обязательный секрет из файла.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(SecretsDir(), name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretMissing, path)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// ReadOptionalSecret читает необязательный секрет. Отсутствие файла не ошибка.
func ReadOptionalSecret(name string) (string, error) {
	secret, err := ReadSecret(name)
	if errors.Is(err, ErrSecretMissing) {
		return "", nil
	}
	return secret, err
}
