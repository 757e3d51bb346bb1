package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKMS struct {
	plaintext string
	err       error

	gotBlob []byte
}

func (f *fakeKMS) Decrypt(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.gotBlob = params.CiphertextBlob
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: []byte(f.plaintext)}, nil
}

func TestDecryptBase64(t *testing.T) {
	api := &fakeKMS{plaintext: "hunter2"}
	ciphertext := base64.StdEncoding.EncodeToString([]byte("blob"))

	plaintext, err := NewKMS(api).DecryptBase64(context.Background(), ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
	assert.Equal(t, []byte("blob"), api.gotBlob)
}

func TestDecryptBase64BadEncoding(t *testing.T) {
	_, err := NewKMS(&fakeKMS{}).DecryptBase64(context.Background(), "not base64 !!!")
	assert.Error(t, err)
}

func TestDecryptBase64APIFailure(t *testing.T) {
	api := &fakeKMS{err: errors.New("access denied")}
	ciphertext := base64.StdEncoding.EncodeToString([]byte("blob"))

	_, err := NewKMS(api).DecryptBase64(context.Background(), ciphertext)
	assert.Error(t, err)
}
