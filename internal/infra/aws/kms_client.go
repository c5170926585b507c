package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/spounge-ai/auditgate/internal/remote"
)

type kmsAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
}

type keyClient struct {
	api kmsAPI
}

func newKeyClient(api kmsAPI) *keyClient {
	return &keyClient{api: api}
}

func (c *keyClient) Invoke(ctx context.Context, op string, params map[string]any) (any, error) {
	keyID := remote.String(params, "key_id")
	encCtx := remote.StringMap(params, "context")

	switch op {
	case remote.OpEncrypt:
		out, err := c.api.Encrypt(ctx, &kms.EncryptInput{
			KeyId:             &keyID,
			Plaintext:         remote.Bytes(params, "plaintext"),
			EncryptionContext: encCtx,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt: %w", err)
		}
		return remote.Ciphertext{KeyID: aws.ToString(out.KeyId), Blob: out.CiphertextBlob}, nil

	case remote.OpDecrypt:
		in := &kms.DecryptInput{
			CiphertextBlob:    remote.Bytes(params, "ciphertext"),
			EncryptionContext: encCtx,
		}
		if keyID != "" {
			in.KeyId = &keyID
		}
		out, err := c.api.Decrypt(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt: %w", err)
		}
		return remote.Plaintext{KeyID: aws.ToString(out.KeyId), Plaintext: out.Plaintext}, nil

	case remote.OpDescribeKey:
		out, err := c.api.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: &keyID})
		if err != nil {
			return nil, fmt.Errorf("failed to describe key: %w", err)
		}
		md := out.KeyMetadata
		if md == nil {
			return remote.KeyDescription{KeyID: keyID}, nil
		}
		return remote.KeyDescription{
			KeyID:       aws.ToString(md.KeyId),
			ARN:         aws.ToString(md.Arn),
			State:       string(md.KeyState),
			Enabled:     md.Enabled,
			Description: aws.ToString(md.Description),
		}, nil

	case remote.OpGenerateDataKey:
		out, err := c.api.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:             &keyID,
			NumberOfBytes:     aws.Int32(int32(remote.Int(params, "bytes", remote.DefaultDataKeyBytes))),
			EncryptionContext: encCtx,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate data key: %w", err)
		}
		return remote.DataKey{KeyID: aws.ToString(out.KeyId), Plaintext: out.Plaintext, Ciphertext: out.CiphertextBlob}, nil

	default:
		return nil, unknownOperation(remote.ServiceKMS, op)
	}
}

func (c *keyClient) Close(context.Context) error { return nil }
