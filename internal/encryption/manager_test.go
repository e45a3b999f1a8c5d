package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"marketplace-auth/internal/config"
)

func localConfig() config.KMSConfig {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return config.KMSConfig{
		LocalKey:  base64.StdEncoding.EncodeToString(key),
		LookupKey: "lookup-secret",
	}
}

func TestLocalRoundTrip(t *testing.T) {
	em, err := NewEncryptionManager(localConfig(), nil)
	if err != nil {
		t.Fatalf("NewEncryptionManager: %v", err)
	}
	ctx := context.Background()

	enc, err := em.EncryptField(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	if enc.KeyID != localKeyID {
		t.Fatalf("key id = %q", enc.KeyID)
	}

	em.ClearCache()
	got, err := em.DecryptField(ctx, enc)
	if err != nil {
		t.Fatalf("DecryptField: %v", err)
	}
	if got != "+15551234567" {
		t.Fatalf("got %q", got)
	}
	if em.GetCacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", em.GetCacheSize())
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	em, _ := NewEncryptionManager(localConfig(), nil)
	enc, _ := em.EncryptField(context.Background(), "secret")

	raw, _ := base64.StdEncoding.DecodeString(enc.EncryptedValue)
	raw[len(raw)-1] ^= 0xff
	enc.EncryptedValue = base64.StdEncoding.EncodeToString(raw)

	if _, err := em.DecryptField(context.Background(), enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestLocalKeyMustBe32Bytes(t *testing.T) {
	cfg := config.KMSConfig{LocalKey: base64.StdEncoding.EncodeToString([]byte("short"))}
	if _, err := NewEncryptionManager(cfg, nil); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestHashForLookupIsStableAndKeyed(t *testing.T) {
	a, _ := NewEncryptionManager(localConfig(), nil)
	b, _ := NewEncryptionManager(localConfig(), nil)
	if a.HashForLookup("x") != b.HashForLookup("x") {
		t.Fatal("same key should give same digest")
	}

	other := localConfig()
	other.LookupKey = "different"
	c, _ := NewEncryptionManager(other, nil)
	if a.HashForLookup("x") == c.HashForLookup("x") {
		t.Fatal("different keys should give different digests")
	}
}

type fakeKMS struct {
	plaintext []byte
	decrypts  int
}

func (f *fakeKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	return &kms.GenerateDataKeyOutput{
		Plaintext:      f.plaintext,
		CiphertextBlob: []byte("wrapped-by-kms"),
		KeyId:          in.KeyId,
	}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypts++
	if string(in.CiphertextBlob) == "wrapped-by-kms" {
		return &kms.DecryptOutput{Plaintext: f.plaintext}, nil
	}
	if string(in.CiphertextBlob) == "jwt-secret-blob" {
		return &kms.DecryptOutput{Plaintext: []byte("signing-secret")}, nil
	}
	return nil, errors.New("unknown blob")
}

func TestKMSEnvelope(t *testing.T) {
	fake := &fakeKMS{plaintext: make([]byte, 32)}
	cfg := config.KMSConfig{Enabled: true, KeyID: "key-1", LookupKey: "k"}
	em, err := NewEncryptionManager(cfg, fake)
	if err != nil {
		t.Fatalf("NewEncryptionManager: %v", err)
	}
	ctx := context.Background()

	enc, err := em.EncryptField(ctx, "value")
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}
	em.ClearCache()
	got, err := em.DecryptField(ctx, enc)
	if err != nil || got != "value" {
		t.Fatalf("DecryptField = %q, %v", got, err)
	}
	if fake.decrypts != 1 {
		t.Fatalf("decrypts = %d, want 1", fake.decrypts)
	}

	secret, err := em.DecryptSecret(ctx, base64.StdEncoding.EncodeToString([]byte("jwt-secret-blob")))
	if err != nil || string(secret) != "signing-secret" {
		t.Fatalf("DecryptSecret = %q, %v", secret, err)
	}
}

func TestKMSEnabledRequiresClient(t *testing.T) {
	if _, err := NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "k"}, nil); err == nil {
		t.Fatal("expected error without client")
	}
}
