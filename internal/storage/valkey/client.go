package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// SaveClient persists a registered client. Client records have no TTL; a
// registered client stays valid until the store is wiped.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	if client.RegisteredIP != "" {
		if err := s.client.Do(ctx,
			s.client.B().Incr().Key(s.clientIPKey(client.RegisteredIP)).Build(),
		).Error(); err != nil {
			s.logger.Warn("failed to track client registration IP", "error", err)
		}
	}

	s.logger.Debug("saved client", "client_id", client.ID)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.clientKey(clientID)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client storage.Client
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// TouchClient updates the client's last-used timestamp.
func (s *Store) TouchClient(ctx context.Context, clientID string, usedAt time.Time) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	client.LastUsedAt = usedAt

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(clientID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to touch client: %w", err)
	}
	return nil
}

// CountClientsByIP returns the number of clients registered from an IP.
func (s *Store) CountClientsByIP(ctx context.Context, ip string) (int, error) {
	countStr, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.clientIPKey(ip)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count clients by IP: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, nil
	}
	return count, nil
}
