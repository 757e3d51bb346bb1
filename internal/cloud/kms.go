package cloud

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSAPI is the subset of the KMS client used here.
type KMSAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMS decrypts the base64-encoded ciphertexts stored in configuration files.
type KMS struct {
	api KMSAPI
}

// NewKMS creates a decrypter backed by the given client.
func NewKMS(api KMSAPI) *KMS {
	return &KMS{api: api}
}

// NewKMSFromConfig creates a decrypter from an AWS SDK config.
func NewKMSFromConfig(cfg aws.Config) *KMS {
	return NewKMS(kms.NewFromConfig(cfg))
}

// DecryptBase64 decodes and decrypts a ciphertext produced by `aws kms
// encrypt`. The key is identified by the ciphertext itself.
func (k *KMS) DecryptBase64(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	out, err := k.api.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt ciphertext: %w", err)
	}

	return string(out.Plaintext), nil
}
