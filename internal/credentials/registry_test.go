package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/linkdrop-service/internal/domain"
)

func TestRegistry_ConsumeNeverExceedsUseBudget(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&domain.Credential{PublicKey: "k1", DropID: "d1", Funder: "alice.near", UsesRemaining: 3}))

	consumed := 0
	for i := 0; i < 5; i++ {
		if _, _, err := r.Authorize("k1"); err != nil {
			continue
		}
		if _, _, err := r.Consume("k1"); err == nil {
			consumed++
		}
	}
	assert.Equal(t, 3, consumed)
	assert.False(t, r.Has("k1"), "exhausted credential must be gone")
	assert.Empty(t, r.ForFunder("alice.near"))

	_, _, err := r.Authorize("k1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegistry_AuthorizeRefusesCredentialWithClaimInFlight(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&domain.Credential{PublicKey: "k1", DropID: "d1", Funder: "alice.near", UsesRemaining: 2}))
	require.NoError(t, r.MarkInFlight("k1", domain.InFlightRef{ClaimID: uuid.New(), Receiver: "bob.near"}))

	_, _, err := r.Authorize("k1")
	assert.True(t, errors.Is(err, domain.ErrClaimInProgress))

	remaining, removed, err := r.Consume("k1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), remaining)
	assert.False(t, removed)

	dropID, uses, err := r.Authorize("k1")
	require.NoError(t, err)
	assert.Equal(t, "d1", dropID)
	assert.Equal(t, uint32(1), uses)
}

func TestRegistry_RemoveOnlyByFunder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&domain.Credential{PublicKey: "k1", DropID: "d1", Funder: "alice.near", UsesRemaining: 1}))

	_, err := r.Remove("k1", "mallory.near")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.True(t, r.Has("k1"))

	removed, err := r.Remove("k1", "alice.near")
	require.NoError(t, err)
	assert.Equal(t, "d1", removed.DropID)
	assert.False(t, r.Has("k1"))
	assert.Empty(t, r.ForFunder("alice.near"))
}

func TestRegistry_AddRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&domain.Credential{PublicKey: "k1", Funder: "a", UsesRemaining: 1}))
	err := r.Add(&domain.Credential{PublicKey: "k1", Funder: "b", UsesRemaining: 1})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEntity))
}

func TestRegistry_RestoreRejectsDuplicateKeys(t *testing.T) {
	r := NewRegistry()
	err := r.Restore([]*domain.Credential{
		{PublicKey: "k1", Funder: "a", UsesRemaining: 1},
		{PublicKey: "k1", Funder: "b", UsesRemaining: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCredential))
	assert.False(t, r.Has("k1"))
	assert.Empty(t, r.ForFunder("a"))

	require.NoError(t, r.Restore([]*domain.Credential{{PublicKey: "k2", Funder: "a", UsesRemaining: 1}}))
	assert.True(t, r.Has("k2"))
}

func TestParsePublicKey_Canonicalizes(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded := base58.Encode(pub)

	withPrefix, err := CanonicalKey("ed25519:" + encoded)
	require.NoError(t, err)
	bare, err := CanonicalKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, withPrefix, bare)

	_, err = ParsePublicKey("ed25519:" + base58.Encode([]byte("short")))
	assert.True(t, errors.Is(err, domain.ErrInvalidPublicKey))
	_, err = ParsePublicKey("rsa:" + encoded)
	assert.True(t, errors.Is(err, domain.ErrInvalidPublicKey))
}

func TestSignatureAuthorizer_ED25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key := "ed25519:" + base58.Encode(pub)
	payload := ClaimPayload(key, "bob.near")

	sig := base58.Encode(ed25519.Sign(priv, payload))
	require.NoError(t, SignatureAuthorizer{}.Authorize(context.Background(), key, payload, sig))

	err = SignatureAuthorizer{}.Authorize(context.Background(), key, ClaimPayload(key, "mallory.near"), sig)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestSignatureAuthorizer_SECP256K1(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw := crypto.FromECDSAPub(&priv.PublicKey)[1:]
	key := "secp256k1:" + base58.Encode(raw)
	payload := ClaimPayload(key, "bob.near")

	sig, err := crypto.Sign(crypto.Keccak256(payload), priv)
	require.NoError(t, err)
	require.NoError(t, SignatureAuthorizer{}.Authorize(context.Background(), key, payload, "secp256k1:"+base58.Encode(sig)))

	sig[10] ^= 0xff
	err = SignatureAuthorizer{}.Authorize(context.Background(), key, payload, base58.Encode(sig))
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}
