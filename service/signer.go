package service

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuditCredentials is the persisted form of the service's tally-signing key.
type AuditCredentials struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadOrCreateAuditKey restores the audit key from storagePath, generating
// and persisting a fresh one on first run. An empty storagePath yields an
// ephemeral key.
func LoadOrCreateAuditKey(storagePath string) (*ecdsa.PrivateKey, error) {
	if storagePath == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate audit key: %w", err)
		}
		return key, nil
	}

	keyPath := filepath.Join(storagePath, "audit_key.json")
	if data, err := os.ReadFile(keyPath); err == nil {
		var creds AuditCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("failed to parse audit credentials: %w", err)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(creds.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to restore audit key: %w", err)
		}
		return key, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate audit key: %w", err)
	}
	creds := AuditCredentials{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit credentials: %w", err)
	}
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to save audit credentials: %w", err)
	}
	return key, nil
}
