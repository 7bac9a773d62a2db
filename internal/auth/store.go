package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"TradeSentinel/internal/model"
)

// LoadCredential reads a persisted credential. Returns nil if the file doesn't exist.
func LoadCredential(filePath string) (*model.Credential, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cred model.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	return &cred, nil
}

// SaveCredential writes the credential to a JSON file, replacing it atomically.
func SaveCredential(filePath string, cred *model.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
