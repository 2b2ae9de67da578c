// Package auth authenticates requests to the procman HTTP API.
package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// RoleAdmin may read inventory and terminate processes.
	RoleAdmin = "admin"

	// RoleViewer may only read.
	RoleViewer = "viewer"

	DefaultHeader = "X-API-Key"
)

// APIKeys holds the keys accepted by the API and the role of each.
type APIKeys struct {
	headerName string
	keys       []apiKey
}

type apiKey struct {
	id   string
	key  []byte
	role string
}

type keyFileEntry struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Role        string `yaml:"role"` // admin|viewer
}

// LoadAPIKeys reads a YAML list of keys. Entries without a role are admin.
func LoadAPIKeys(keysFile string, headerName string) (*APIKeys, error) {
	if strings.TrimSpace(headerName) == "" {
		headerName = DefaultHeader
	}
	if keysFile == "" {
		return nil, fmt.Errorf("api key auth enabled but keys_file is empty")
	}
	b, err := os.ReadFile(keysFile)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	var entries []keyFileEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}
	a := &APIKeys{headerName: headerName}
	for i, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(e.Role))
		switch role {
		case "":
			role = RoleAdmin
		case RoleAdmin, RoleViewer:
		default:
			return nil, fmt.Errorf("api key %d (%s): unknown role %q", i, e.ID, e.Role)
		}
		a.keys = append(a.keys, apiKey{id: e.ID, key: []byte(e.Key), role: role})
	}
	if len(a.keys) == 0 {
		return nil, fmt.Errorf("api keys file contains no keys")
	}
	return a, nil
}

func (a *APIKeys) HeaderName() string { return a.headerName }

func (a *APIKeys) IsAllowed(key string) bool {
	return a.RoleForKey(key) != ""
}

// RoleForKey returns the role of key, or "" when key is unknown. Every
// configured key is compared in constant time.
func (a *APIKeys) RoleForKey(key string) string {
	if a == nil || key == "" {
		return ""
	}
	var role string
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k.key, []byte(key)) == 1 {
			role = k.role
		}
	}
	return role
}
