package credentials

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Curve names the key scheme of a credential.
type Curve string

const (
	CurveED25519   Curve = "ed25519"
	CurveSECP256K1 Curve = "secp256k1"
)

// PublicKey is a parsed "<curve>:<base58>" credential key.
type PublicKey struct {
	Curve Curve
	Data  []byte
}

// ParsePublicKey accepts "ed25519:<base58>" and "secp256k1:<base58>".
// A key without a prefix is read as ed25519.
func ParsePublicKey(raw string) (PublicKey, error) {
	raw = strings.TrimSpace(raw)
	curve, encoded, found := strings.Cut(raw, ":")
	if !found {
		curve, encoded = string(CurveED25519), raw
	}
	data, err := base58.Decode(encoded)
	if err != nil || len(data) == 0 {
		return PublicKey{}, fmt.Errorf("%q: %w", raw, domain.ErrInvalidPublicKey)
	}

	switch Curve(strings.ToLower(curve)) {
	case CurveED25519:
		if len(data) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("ed25519 key must be %d bytes: %w", ed25519.PublicKeySize, domain.ErrInvalidPublicKey)
		}
		return PublicKey{Curve: CurveED25519, Data: data}, nil
	case CurveSECP256K1:
		uncompressed, err := secpUncompressed(data)
		if err != nil {
			return PublicKey{}, err
		}
		// Stored without the 0x04 prefix.
		return PublicKey{Curve: CurveSECP256K1, Data: uncompressed[1:]}, nil
	default:
		return PublicKey{}, fmt.Errorf("unsupported curve %q: %w", curve, domain.ErrInvalidPublicKey)
	}
}

// String renders the canonical form used as the registry key.
func (k PublicKey) String() string {
	return string(k.Curve) + ":" + base58.Encode(k.Data)
}

// CanonicalKey parses raw and returns its canonical string.
func CanonicalKey(raw string) (string, error) {
	pk, err := ParsePublicKey(raw)
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}

// ClaimPayload is the message a credential holder signs to claim to target.
func ClaimPayload(publicKey, target string) []byte {
	return []byte("linkdrop:claim:" + publicKey + ":" + target)
}

// SignatureAuthorizer accepts a claim when signature is a valid signature of
// the payload by the credential key. Signatures are base58, optionally
// prefixed with the curve name.
type SignatureAuthorizer struct{}

func (SignatureAuthorizer) Authorize(_ context.Context, publicKey string, payload []byte, signature string) error {
	pk, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	encoded := strings.TrimSpace(signature)
	if _, rest, found := strings.Cut(encoded, ":"); found {
		encoded = rest
	}
	sig, err := base58.Decode(encoded)
	if err != nil {
		return fmt.Errorf("decode signature: %w", domain.ErrBadSignature)
	}

	switch pk.Curve {
	case CurveED25519:
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pk.Data), payload, sig) {
			return domain.ErrBadSignature
		}
	case CurveSECP256K1:
		if len(sig) != crypto.SignatureLength && len(sig) != crypto.SignatureLength-1 {
			return domain.ErrBadSignature
		}
		pub := append([]byte{0x04}, pk.Data...)
		if !crypto.VerifySignature(pub, crypto.Keccak256(payload), sig[:64]) {
			return domain.ErrBadSignature
		}
	}
	return nil
}

func secpUncompressed(data []byte) ([]byte, error) {
	switch len(data) {
	case 64:
		data = append([]byte{0x04}, data...)
		fallthrough
	case 65:
		pub, err := crypto.UnmarshalPubkey(data)
		if err != nil {
			return nil, fmt.Errorf("secp256k1 key: %w", domain.ErrInvalidPublicKey)
		}
		return crypto.FromECDSAPub(pub), nil
	case 33:
		pub, err := crypto.DecompressPubkey(data)
		if err != nil {
			return nil, fmt.Errorf("secp256k1 key: %w", domain.ErrInvalidPublicKey)
		}
		return crypto.FromECDSAPub(pub), nil
	default:
		return nil, fmt.Errorf("secp256k1 key must be 33, 64 or 65 bytes: %w", domain.ErrInvalidPublicKey)
	}
}
