package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "shopgraph"

	// KeyringNeo4jPasswordItem is the key for the graph store password
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger logrus.FieldLogger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: logrus.StandardLogger().WithField("component", "keyring"),
	}
}

// SetNeo4jPassword stores the graph store password in the OS keychain
func (km *KeyringManager) SetNeo4jPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringNeo4jPasswordItem, password); err != nil {
		km.logger.WithError(err).Error("failed to save neo4j password to keychain")
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.WithField("service", KeyringService).Info("neo4j password saved to keychain")
	return nil
}

// GetNeo4jPassword retrieves the graph store password; empty when unset
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.WithError(err).Error("failed to get neo4j password from keychain")
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("neo4j password retrieved from keychain")
	return password, nil
}

// DeleteNeo4jPassword removes the graph store password from the OS keychain
func (km *KeyringManager) DeleteNeo4jPassword() error {
	err := keyring.Delete(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.WithError(err).Error("failed to delete neo4j password from keychain")
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("neo4j password deleted from keychain")
	return nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems where no secret service is running
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.WithError(err).Debug("keychain not available")
		return false
	}
	return true
}

// MaskSecret masks a secret for display
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:2], secret[len(secret)-2:])
}
