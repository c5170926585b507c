package local

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/remote"
)

// localAccount is the account id used in the ARNs the local key service reports.
const localAccount = "000000000000"

// keyClient seals data under one master key. The key id and encryption
// context are bound into the ciphertext as additional data, so decrypting
// under another key id or context fails the way KMS does.
type keyClient struct {
	closer
	gcm    cipher.AEAD
	region string
}

// newAEAD returns a cipher that does not reference masterKey, so the caller
// may clear it.
func newAEAD(masterKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *keyClient) Invoke(ctx context.Context, op string, params map[string]any) (any, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	keyID := remote.String(params, "key_id")
	encCtx := remote.StringMap(params, "context")

	switch op {
	case remote.OpEncrypt:
		blob, err := c.seal(keyID, remote.Bytes(params, "plaintext"), encCtx)
		if err != nil {
			return nil, err
		}
		return remote.Ciphertext{KeyID: c.arn(keyID), Blob: blob}, nil
	case remote.OpDecrypt:
		owner, plaintext, err := c.open(remote.Bytes(params, "ciphertext"), encCtx)
		if err != nil {
			return nil, err
		}
		if keyID != "" && keyID != owner {
			return nil, &app_errors.RemoteError{Code: "IncorrectKeyException", Message: "The key ID in the request does not identify the key used to encrypt the ciphertext."}
		}
		return remote.Plaintext{KeyID: c.arn(owner), Plaintext: plaintext}, nil
	case remote.OpDescribeKey:
		return remote.KeyDescription{
			KeyID:       keyID,
			ARN:         c.arn(keyID),
			State:       "Enabled",
			Enabled:     true,
			Description: "local key",
		}, nil
	case remote.OpGenerateDataKey:
		plaintext := make([]byte, remote.Int(params, "bytes", remote.DefaultDataKeyBytes))
		if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
			return nil, err
		}
		blob, err := c.seal(keyID, plaintext, encCtx)
		if err != nil {
			return nil, err
		}
		return remote.DataKey{KeyID: c.arn(keyID), Plaintext: plaintext, Ciphertext: blob}, nil
	default:
		return nil, unknownOperation(remote.ServiceKMS, op)
	}
}

// seal returns len(keyID) | keyID | nonce | sealed data.
func (c *keyClient) seal(keyID string, plaintext []byte, encCtx map[string]string) ([]byte, error) {
	if len(keyID) > 255 {
		return nil, &app_errors.RemoteError{Code: "ValidationException", Message: "key id is too long"}
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(keyID)+len(nonce)+len(plaintext)+c.gcm.Overhead())
	out = append(out, byte(len(keyID)))
	out = append(out, keyID...)
	out = append(out, nonce...)
	return c.gcm.Seal(out, nonce, plaintext, additionalData(keyID, encCtx)), nil
}

func (c *keyClient) open(blob []byte, encCtx map[string]string) (string, []byte, error) {
	invalid := &app_errors.RemoteError{Code: "InvalidCiphertextException", Message: "The ciphertext is invalid."}
	if len(blob) < 1 {
		return "", nil, invalid
	}
	idLen := int(blob[0])
	nonceSize := c.gcm.NonceSize()
	if len(blob) < 1+idLen+nonceSize {
		return "", nil, invalid
	}

	keyID := string(blob[1 : 1+idLen])
	nonce := blob[1+idLen : 1+idLen+nonceSize]
	plaintext, err := c.gcm.Open(nil, nonce, blob[1+idLen+nonceSize:], additionalData(keyID, encCtx))
	if err != nil {
		return "", nil, invalid
	}
	return keyID, plaintext, nil
}

func (c *keyClient) arn(keyID string) string {
	switch {
	case strings.HasPrefix(keyID, "arn:"):
		return keyID
	case strings.HasPrefix(keyID, "alias/"):
		return fmt.Sprintf("arn:aws:kms:%s:%s:%s", c.region, localAccount, keyID)
	default:
		return fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", c.region, localAccount, keyID)
	}
}

func additionalData(keyID string, encCtx map[string]string) []byte {
	var b strings.Builder
	b.WriteString(keyID)
	for _, k := range slices.Sorted(maps.Keys(encCtx)) {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encCtx[k])
	}
	return []byte(b.String())
}
