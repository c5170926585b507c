package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/remote"
)

// 32 zero bytes.
const testMasterKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func newConnector(t *testing.T) *Connector {
	t.Helper()
	c, err := NewConnector(testMasterKey)
	require.NoError(t, err)
	return c
}

func TestNewConnectorRejectsBadKeys(t *testing.T) {
	_, err := NewConnector("not base64!")
	require.Error(t, err)

	_, err = NewConnector("AAAA")
	require.Error(t, err)
}

func TestConnect(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "queue", "r1")
	require.ErrorIs(t, err, app_errors.ErrUnsupportedService)

	_, err = c.Connect(ctx, remote.ServiceStorage, "")
	var remoteErr *app_errors.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "InvalidRegion", remoteErr.Code)
}

func TestStorageRoundTrip(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	writer, err := c.Connect(ctx, remote.ServiceStorage, "r1")
	require.NoError(t, err)
	reader, err := c.Connect(ctx, remote.ServiceStorage, "r1")
	require.NoError(t, err)
	other, err := c.Connect(ctx, remote.ServiceStorage, "r2")
	require.NoError(t, err)

	out, err := writer.Invoke(ctx, remote.OpPut, map[string]any{
		"bucket": "reports",
		"key":    "a/1.txt",
		"body":   []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.(remote.ObjectInfo).Size)

	out, err = reader.Invoke(ctx, remote.OpGet, map[string]any{"bucket": "reports", "key": "a/1.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out.(remote.Object).Body)
	assert.Equal(t, "application/octet-stream", out.(remote.Object).ContentType)

	_, err = writer.Invoke(ctx, remote.OpPut, map[string]any{"bucket": "reports", "key": "b/2.txt", "body": []byte("x")})
	require.NoError(t, err)
	out, err = reader.Invoke(ctx, remote.OpList, map[string]any{"bucket": "reports", "prefix": "a/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1.txt"}, out.(remote.ObjectList).Keys)

	_, err = other.Invoke(ctx, remote.OpHead, map[string]any{"bucket": "reports", "key": "a/1.txt"})
	var remoteErr *app_errors.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "NoSuchBucket", remoteErr.Code)

	_, err = writer.Invoke(ctx, remote.OpDelete, map[string]any{"bucket": "reports", "key": "a/1.txt"})
	require.NoError(t, err)
	_, err = reader.Invoke(ctx, remote.OpHead, map[string]any{"bucket": "reports", "key": "a/1.txt"})
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "NoSuchKey", remoteErr.Code)
}

func TestClosedClientFailsAsTransport(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()
	client, err := c.Connect(ctx, remote.ServiceStorage, "r1")
	require.NoError(t, err)
	require.NoError(t, client.Close(ctx))

	_, err = client.Invoke(ctx, remote.OpList, map[string]any{"bucket": "reports"})
	require.ErrorIs(t, err, app_errors.ErrTransport)
}

func TestKeyServiceRoundTrip(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()
	client, err := c.Connect(ctx, remote.ServiceKMS, "r1")
	require.NoError(t, err)

	encCtx := map[string]string{"tenant": "acme"}
	out, err := client.Invoke(ctx, remote.OpEncrypt, map[string]any{
		"key_id":    "alias/audit",
		"plaintext": []byte("secret"),
		"context":   encCtx,
	})
	require.NoError(t, err)
	sealed := out.(remote.Ciphertext)
	assert.Equal(t, "arn:aws:kms:r1:000000000000:alias/audit", sealed.KeyID)

	out, err = client.Invoke(ctx, remote.OpDecrypt, map[string]any{"ciphertext": sealed.Blob, "context": encCtx})
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out.(remote.Plaintext).Plaintext)

	var remoteErr *app_errors.RemoteError
	_, err = client.Invoke(ctx, remote.OpDecrypt, map[string]any{"ciphertext": sealed.Blob})
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "InvalidCiphertextException", remoteErr.Code)

	_, err = client.Invoke(ctx, remote.OpDecrypt, map[string]any{
		"ciphertext": sealed.Blob,
		"context":    encCtx,
		"key_id":     "alias/other",
	})
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "IncorrectKeyException", remoteErr.Code)
}

func TestGenerateDataKey(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()
	client, err := c.Connect(ctx, remote.ServiceKMS, "r1")
	require.NoError(t, err)

	out, err := client.Invoke(ctx, remote.OpGenerateDataKey, map[string]any{"key_id": "alias/audit", "bytes": int64(16)})
	require.NoError(t, err)
	dk := out.(remote.DataKey)
	assert.Len(t, dk.Plaintext, 16)

	out, err = client.Invoke(ctx, remote.OpDecrypt, map[string]any{"ciphertext": dk.Ciphertext})
	require.NoError(t, err)
	assert.Equal(t, dk.Plaintext, out.(remote.Plaintext).Plaintext)

	_, err = client.Invoke(ctx, "rotate", nil)
	require.ErrorIs(t, err, app_errors.ErrUnknownOperation)
}
