//go:build darwin

// Package keychain implements password.Provider against the macOS
// Keychain, grounded on flarebyte-baldrick-rebec's
// internal/vault/keychain_darwin.go (same github.com/keybase/go-keychain
// API surface), adapted from that package's VaultDAO shape to cuba's
// narrower password.Provider/Setter interfaces.
package keychain

import (
	"fmt"

	kc "github.com/keybase/go-keychain"

	"github.com/zarniwp/cuba/internal/cuberr"
)

// ServiceName is the Keychain "Service" attribute every secret is
// stored under, so cuba's entries are distinguishable from other
// applications' items.
const ServiceName = "cuba-backup"

// Provider stores password_id -> secret mappings as macOS Keychain
// generic password items.
type Provider struct{}

// New creates a keychain-backed Provider.
func New() *Provider { return &Provider{} }

// Get looks up the secret registered under id.
func (p *Provider) Get(id string) (string, error) {
	q := kc.NewItem()
	q.SetSecClass(kc.SecClassGenericPassword)
	q.SetService(ServiceName)
	q.SetAccount(id)
	q.SetMatchLimit(kc.MatchLimitOne)
	q.SetReturnData(true)

	results, err := kc.QueryItem(q)
	if err != nil {
		return "", cuberr.New(cuberr.KindAuth, fmt.Errorf("querying keychain for %q: %w", id, err))
	}
	if len(results) == 0 || results[0].Data == nil {
		return "", cuberr.New(cuberr.KindAuth, fmt.Errorf("no password registered for id %q", id))
	}
	return string(results[0].Data), nil
}

// Set stores secret under id, overwriting any existing entry.
func (p *Provider) Set(id, secret string) error {
	query := kc.NewItem()
	query.SetSecClass(kc.SecClassGenericPassword)
	query.SetService(ServiceName)
	query.SetAccount(id)

	item := kc.NewItem()
	item.SetSecClass(kc.SecClassGenericPassword)
	item.SetService(ServiceName)
	item.SetAccount(id)
	item.SetLabel("cuba password: " + id)
	item.SetData([]byte(secret))
	item.SetAccessible(kc.AccessibleAfterFirstUnlock)

	if err := kc.UpdateItem(query, item); err != nil {
		if addErr := kc.AddItem(item); addErr != nil {
			return fmt.Errorf("storing password for %q: %w", id, addErr)
		}
	}
	return nil
}

// Delete removes the entry registered under id, if any.
func (p *Provider) Delete(id string) error {
	item := kc.NewItem()
	item.SetSecClass(kc.SecClassGenericPassword)
	item.SetService(ServiceName)
	item.SetAccount(id)
	return kc.DeleteItem(item)
}
