package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Stealinglight/StravaMCP/internal/storage"
	"github.com/Stealinglight/StravaMCP/internal/util"
)

// SaveTokenPair persists a token pair keyed by access token and writes the
// refresh index entry. The pair record's TTL follows the refresh expiry so
// an expired access token remains refreshable until the refresh token dies.
func (s *Store) SaveTokenPair(ctx context.Context, pair *storage.TokenPair) error {
	if pair == nil || pair.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	if pair.RefreshToken == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal token pair: %w", err)
	}

	payload := string(data)
	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		payload, err = enc.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("failed to encrypt token pair: %w", err)
		}
	}

	ttl := calculateTTL(pair.RefreshExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token pair already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.tokenKey(pair.AccessToken)).Value(payload).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.refreshIndexKey(pair.RefreshToken)).Value(pair.AccessToken).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh index: %w", err)
	}

	s.logger.Debug("saved token pair",
		"access_prefix", util.SafeTruncate(pair.AccessToken, tokenIDLogLength),
		"client_id", pair.ClientID)
	return nil
}

// GetByAccessToken retrieves a pair by access token.
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.tokenKey(accessToken)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token pair: %w", err)
	}
	return s.decodeTokenPair(data)
}

// GetByRefreshToken retrieves a pair through the refresh index.
func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*storage.TokenPair, error) {
	accessToken, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.refreshIndexKey(refreshToken)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve refresh index: %w", err)
	}
	return s.GetByAccessToken(ctx, accessToken)
}

// DeleteTokenPair removes a pair record. The refresh index entry is only
// removed when it still points at this access token, so deleting a
// superseded record does not disturb the index entry of its successor.
func (s *Store) DeleteTokenPair(ctx context.Context, accessToken string) error {
	pair, err := s.GetByAccessToken(ctx, accessToken)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.tokenKey(accessToken)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete token pair: %w", err)
	}

	indexed, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.refreshIndexKey(pair.RefreshToken)).Build(),
	).ToString()
	if err == nil && indexed == accessToken {
		if err := s.client.Do(ctx,
			s.client.B().Del().Key(s.refreshIndexKey(pair.RefreshToken)).Build(),
		).Error(); err != nil {
			return fmt.Errorf("failed to delete refresh index: %w", err)
		}
	}
	return nil
}

func (s *Store) decodeTokenPair(data string) (*storage.TokenPair, error) {
	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		decrypted, err := enc.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token pair: %w", err)
		}
		data = decrypted
	}

	var pair storage.TokenPair
	if err := json.Unmarshal([]byte(data), &pair); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token pair: %w", err)
	}

	// TTL expiry is not instantaneous; double-check the stored timestamp.
	if time.Now().After(pair.RefreshExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return &pair, nil
}
