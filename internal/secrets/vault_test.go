package secrets

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "vault.db"), testKey)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestVaultSetAndGet(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_cabinet", "openai", "sk-test-123"))

	got, err := v.GetProviderKey(ctx, "org_cabinet", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", got)
}

func TestVaultKeysAreOrgScoped(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", "sk-org-a"))

	_, err := v.GetProviderKey(ctx, "org_b", "openai")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVaultReplaceExistingKey(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_a", "anthropic", "old"))
	require.NoError(t, v.SetProviderKey(ctx, "org_a", "anthropic", "new"))

	got, err := v.GetProviderKey(ctx, "org_a", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestVaultCiphertextNotPlaintext(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	secret := "sk-very-secret-value"
	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", secret))

	var ciphertext string
	err := v.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM provider_keys WHERE org_id = ? AND backend = ?`,
		"org_a", "openai").Scan(&ciphertext)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, secret)
}

func TestVaultHexEncodedKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	v, err := Open(filepath.Join(t.TempDir(), "vault.db"), hexKey)
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", "sk-hex"))
	got, err := v.GetProviderKey(ctx, "org_a", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-hex", got)
}

func TestVaultRejectsShortKey(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "vault.db"), "too-short")
	assert.ErrorIs(t, err, ErrInvalidEncryptionKey)
}

func TestVaultDelete(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", "sk-1"))
	require.NoError(t, v.DeleteProviderKey(ctx, "org_a", "openai"))

	_, err := v.GetProviderKey(ctx, "org_a", "openai")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVaultAuditLog(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", "sk-1"))
	_, err := v.GetProviderKey(ctx, "org_a", "openai")
	require.NoError(t, err)
	_, err = v.GetProviderKey(ctx, "org_a", "anthropic")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	records, err := v.AuditLog(ctx, "org_a", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var allowed, denied int
	for _, rec := range records {
		if rec.Allowed {
			allowed++
		} else {
			denied++
			assert.Equal(t, "not found", rec.Reason)
		}
	}
	assert.Equal(t, 1, allowed)
	assert.Equal(t, 1, denied)
}

func TestVaultListProviderKeys(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.SetProviderKey(ctx, "org_a", "openai", "sk-1"))
	require.NoError(t, v.SetProviderKey(ctx, "org_a", "anthropic", "sk-2"))
	require.NoError(t, v.SetProviderKey(ctx, "org_b", "openai", "sk-3"))

	all, err := v.ListProviderKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	orgA, err := v.ListProviderKeys(ctx, "org_a")
	require.NoError(t, err)
	require.Len(t, orgA, 2)
	assert.Equal(t, 0, orgA[0].AccessCount)

	_, err = v.GetProviderKey(ctx, "org_a", "openai")
	require.NoError(t, err)
	after, err := v.ListProviderKeys(ctx, "org_a")
	require.NoError(t, err)
	for _, info := range after {
		if info.Backend == "openai" {
			assert.Equal(t, 1, info.AccessCount)
			assert.NotNil(t, info.AccessedAt)
		}
	}
}
