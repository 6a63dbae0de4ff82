package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// testStore connects to a local Valkey instance. Tests are skipped when
// VALKEY_TEST_ADDR is unset and localhost:6379 is unreachable. Each test
// gets its own key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("stravatest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(store.Close)
	return store
}

func TestClientRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ID:           "client-valkey",
		Name:         "Valkey Client",
		RedirectURIs: []string{"http://localhost:9000/cb"},
		AuthMethod:   "none",
		RegisteredIP: "192.0.2.10",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient(ctx, "client-valkey")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.Name != client.Name {
		t.Errorf("expected name %q, got %q", client.Name, got.Name)
	}

	n, err := s.CountClientsByIP(ctx, "192.0.2.10")
	if err != nil {
		t.Fatalf("CountClientsByIP failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 client for IP, got %d", n)
	}

	if _, err := s.GetClient(ctx, "missing"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGrantConsumeOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	grant := &storage.Grant{
		Code:                "grant-valkey",
		ClientID:            "client-1",
		RedirectURI:         "http://localhost:9000/cb",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		CreatedAt:           time.Now().UTC(),
		ExpiresAt:           time.Now().UTC().Add(5 * time.Minute),
	}
	if err := s.SaveGrant(ctx, grant); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	got, err := s.ConsumeGrant(ctx, "grant-valkey")
	if err != nil {
		t.Fatalf("ConsumeGrant failed: %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("expected client-1, got %q", got.ClientID)
	}

	if _, err := s.ConsumeGrant(ctx, "grant-valkey"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound on replay, got %v", err)
	}
}

func TestConsentNonceSingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveConsentNonce(ctx, "nonce-valkey", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveConsentNonce failed: %v", err)
	}
	if err := s.ConsumeConsentNonce(ctx, "nonce-valkey"); err != nil {
		t.Fatalf("ConsumeConsentNonce failed: %v", err)
	}
	if err := s.ConsumeConsentNonce(ctx, "nonce-valkey"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestTokenPairRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pair := &storage.TokenPair{
		AccessToken:      "access-valkey",
		RefreshToken:     "refresh-valkey",
		ClientID:         "client-1",
		Scope:            "mcp",
		CreatedAt:        time.Now().UTC(),
		AccessExpiresAt:  time.Now().UTC().Add(time.Hour),
		RefreshExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := s.SaveTokenPair(ctx, pair); err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	byRefresh, err := s.GetByRefreshToken(ctx, "refresh-valkey")
	if err != nil {
		t.Fatalf("GetByRefreshToken failed: %v", err)
	}
	if byRefresh.AccessToken != "access-valkey" {
		t.Errorf("expected access-valkey, got %q", byRefresh.AccessToken)
	}

	if err := s.DeleteTokenPair(ctx, "access-valkey"); err != nil {
		t.Fatalf("DeleteTokenPair failed: %v", err)
	}
	if _, err := s.GetByAccessToken(ctx, "access-valkey"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTokenPairEncryptedAtRest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	s.SetEncryptor(enc)

	pair := &storage.TokenPair{
		AccessToken:      "access-enc",
		RefreshToken:     "refresh-enc",
		ClientID:         "client-1",
		AccessExpiresAt:  time.Now().UTC().Add(time.Hour),
		RefreshExpiresAt: time.Now().UTC().Add(2 * time.Hour),
	}
	if err := s.SaveTokenPair(ctx, pair); err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	// The raw stored value must not contain the plaintext record.
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey("access-enc")).Build()).ToString()
	if err != nil {
		t.Fatalf("raw GET failed: %v", err)
	}
	if raw == "" || strings.Contains(raw, "refresh-enc") {
		t.Error("stored token pair appears to be plaintext")
	}

	got, err := s.GetByAccessToken(ctx, "access-enc")
	if err != nil {
		t.Fatalf("GetByAccessToken failed: %v", err)
	}
	if got.RefreshToken != "refresh-enc" {
		t.Errorf("expected decrypted refresh token, got %q", got.RefreshToken)
	}
}
