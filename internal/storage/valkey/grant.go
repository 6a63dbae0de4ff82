package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Stealinglight/StravaMCP/internal/storage"
	"github.com/Stealinglight/StravaMCP/internal/util"
)

// SaveGrant persists an authorization grant with its TTL.
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	if grant == nil || grant.Code == "" {
		return fmt.Errorf("grant code cannot be empty")
	}

	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	ttl := calculateTTL(grant.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("grant already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.grantKey(grant.Code)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}

	s.logger.Debug("saved grant",
		"code_prefix", util.SafeTruncate(grant.Code, tokenIDLogLength),
		"client_id", grant.ClientID)
	return nil
}

// ConsumeGrant atomically retrieves and deletes a grant via GETDEL.
// Exactly one concurrent redemption can observe the record; the TTL has
// already removed expired grants, and a second attempt sees nil.
func (s *Store) ConsumeGrant(ctx context.Context, code string) (*storage.Grant, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.grantKey(code)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume grant: %w", err)
	}

	var grant storage.Grant
	if err := json.Unmarshal([]byte(data), &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}

	// TTL expiry is not instantaneous; double-check the stored timestamp.
	if time.Now().After(grant.ExpiresAt) {
		return nil, storage.ErrNotFound
	}

	s.logger.Debug("consumed grant",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return &grant, nil
}

// SaveConsentNonce stores a single-use consent nonce with its TTL.
func (s *Store) SaveConsentNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if nonce == "" {
		return fmt.Errorf("nonce cannot be empty")
	}

	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("nonce already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.nonceKey(nonce)).Value("1").Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save consent nonce: %w", err)
	}
	return nil
}

// ConsumeConsentNonce atomically retrieves and deletes a consent nonce.
func (s *Store) ConsumeConsentNonce(ctx context.Context, nonce string) error {
	_, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.nonceKey(nonce)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to consume consent nonce: %w", err)
	}
	return nil
}
