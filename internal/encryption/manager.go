package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"marketplace-auth/internal/config"
	"marketplace-auth/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const localKeyID = "local"

// KMSAPI is the subset of *kms.Client the manager calls.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// EncryptionManager performs envelope encryption of personal fields. Data
// keys come from KMS when enabled; otherwise they are wrapped with a local
// AES-256 key.
type EncryptionManager struct {
	kmsClient KMSAPI
	config    config.KMSConfig
	localKEK  []byte
	lookupKey []byte
	keyCache  sync.Map // encrypted DEK -> plaintext DEK
}

func NewEncryptionManager(cfg config.KMSConfig, kmsClient KMSAPI) (*EncryptionManager, error) {
	em := &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}

	if cfg.Enabled {
		if kmsClient == nil {
			return nil, errors.New("kms client is required when KMS is enabled")
		}
	} else {
		kek, err := localKey(cfg.LocalKey)
		if err != nil {
			return nil, err
		}
		em.localKEK = kek
	}

	if cfg.LookupKey != "" {
		em.lookupKey = []byte(cfg.LookupKey)
	} else {
		util.Warn("ENCRYPTION_LOOKUP_KEY not set, lookup hashes will not survive a restart")
		em.lookupKey = make([]byte, 32)
		if _, err := rand.Read(em.lookupKey); err != nil {
			return nil, fmt.Errorf("generate lookup key: %w", err)
		}
	}

	return em, nil
}

func localKey(encoded string) ([]byte, error) {
	if encoded == "" {
		util.Warn("ENCRYPTION_LOCAL_KEY not set, using an ephemeral key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate local key: %w", err)
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_LOCAL_KEY is not base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_LOCAL_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GenerateDataKey generates a new data encryption key.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.config.Enabled {
		return em.generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.config.KeyID,
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrapped, err := seal(em.localKEK, key)
	if err != nil {
		return nil, err
	}

	return &DataKey{
		Plaintext:  key,
		Ciphertext: wrapped,
		KeyID:      localKeyID,
	}, nil
}

// EncryptField encrypts a sensitive field using envelope encryption.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	ciphertext, err := seal(dataKey.Plaintext, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(encryptedDEK, dataKey.Plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encryptedDEK,
		KeyID:          dataKey.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField decrypts a value produced by EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, encryptedData *EncryptedData) (string, error) {
	if encryptedData == nil {
		return "", fmt.Errorf("%w: nil data", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if cached, ok := em.keyCache.Load(encryptedData.EncryptedDEK); ok {
		plaintextDEK = cached.([]byte)
	} else {
		wrapped, err := base64.StdEncoding.DecodeString(encryptedData.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}

		if encryptedData.KeyID == localKeyID {
			plaintextDEK, err = open(em.localKEK, wrapped)
			if err != nil {
				return "", err
			}
		} else {
			plaintextDEK, err = em.kmsDecrypt(ctx, wrapped)
			if err != nil {
				return "", err
			}
		}
		em.keyCache.Store(encryptedData.EncryptedDEK, plaintextDEK)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedData.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(plaintextDEK, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptSecret unwraps a base64 KMS ciphertext such as the token signing secret.
func (em *EncryptionManager) DecryptSecret(ctx context.Context, encoded string) ([]byte, error) {
	if !em.config.Enabled {
		return nil, fmt.Errorf("%w: KMS is disabled", ErrDecryptionFailed)
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid secret format", ErrDecryptionFailed)
	}
	return em.kmsDecrypt(ctx, blob)
}

func (em *EncryptionManager) kmsDecrypt(ctx context.Context, blob []byte) ([]byte, error) {
	if em.kmsClient == nil {
		return nil, fmt.Errorf("%w: no KMS client", ErrDecryptionFailed)
	}
	result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		util.Error("KMS decrypt failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return result.Plaintext, nil
}

// HashForLookup returns a keyed, deterministic digest of value so encrypted
// fields can still be matched by equality.
func (em *EncryptionManager) HashForLookup(value string) string {
	mac := hmac.New(sha256.New, em.lookupKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// ClearCache drops all cached data keys.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
