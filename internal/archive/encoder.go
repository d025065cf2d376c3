// Package archive appends raw record batches to encrypted, compressed
// daily cold-storage objects.
//
// Blob layout: an RSA-OAEP-wrapped ChaCha20-Poly1305 key (fixed length,
// the RSA modulus size), followed by the AEAD nonce and the ciphertext
// of the zstd-compressed JSON array. Appending is a read-decrypt-
// append-recompress-encrypt-write cycle guarded by the object store's
// generation token.
package archive

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Backoff bounds the retry schedule for one append cycle: the delay
// starts at Base, doubles per attempt and is capped at Cap; after
// MaxAttempts the batch is dropped from archival.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << uint(attempt)
	if d > b.Cap || d <= 0 {
		d = b.Cap
	}
	return d
}

// EncoderMetrics receives upload outcome counts. Implemented by the
// pipeline's prometheus collector; nil disables reporting.
type EncoderMetrics interface {
	ArchiveUploadInc()
	ArchiveRetryInc()
	ArchiveFailureInc()
}

// Encoder owns the symmetric key material and the append cycle. A
// fresh data key is generated per upload and wrapped with the public
// key; the private key is needed to read existing objects back.
type Encoder struct {
	store   ObjectStore
	pub     *rsa.PublicKey
	priv    *rsa.PrivateKey
	backoff Backoff
	metrics EncoderMetrics
}

func NewEncoder(store ObjectStore, pub *rsa.PublicKey, priv *rsa.PrivateKey, backoff Backoff, metrics EncoderMetrics) *Encoder {
	return &Encoder{store: store, pub: pub, priv: priv, backoff: backoff, metrics: metrics}
}

// ObjectName returns the date-keyed object name for t, e.g.
// "archive_2024-05-05.json.zst.enc".
func ObjectName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.json.zst.enc", prefix, t.Format("2006-01-02"))
}

// Append merges records into the named object's JSON array. Each
// attempt reads the current object (if any), decrypts and decompresses
// it, appends, and writes back conditionally on the generation it
// read. Transient failures and generation races retry under the
// backoff schedule; exhausting it returns an error and the caller
// drops the batch from archival (the rows are already in Postgres).
func (e *Encoder) Append(ctx context.Context, name string, records []json.RawMessage) error {
	if len(records) == 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < e.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			if e.metrics != nil {
				e.metrics.ArchiveRetryInc()
			}
			delay := e.backoff.delay(attempt - 1)
			log.Printf("archive: object=%s attempt=%d failed: %v, retrying in %s", name, attempt, lastErr, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = e.appendOnce(ctx, name, records)
		if lastErr == nil {
			if e.metrics != nil {
				e.metrics.ArchiveUploadInc()
			}
			return nil
		}
	}
	if e.metrics != nil {
		e.metrics.ArchiveFailureInc()
	}
	return fmt.Errorf("archive append to %s exhausted %d attempts: %w", name, e.backoff.MaxAttempts, lastErr)
}

func (e *Encoder) appendOnce(ctx context.Context, name string, records []json.RawMessage) error {
	existing := []json.RawMessage{}
	var generation int64

	data, gen, err := e.store.Get(ctx, name)
	switch {
	case errors.Is(err, ErrNotExist):
		// first archive attempt of the day creates the object
	case err != nil:
		return fmt.Errorf("read object: %w", err)
	default:
		generation = gen
		plain, err := e.Open(data)
		if err != nil {
			return fmt.Errorf("decode existing object: %w", err)
		}
		if err := json.Unmarshal(plain, &existing); err != nil {
			return fmt.Errorf("parse existing archive array: %w", err)
		}
	}

	existing = append(existing, records...)
	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal archive array: %w", err)
	}
	blob, err := e.Seal(payload)
	if err != nil {
		return err
	}
	if err := e.store.Put(ctx, name, blob, generation); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

// Seal compresses plaintext, encrypts it with a fresh data key and
// prefixes the wrapped key.
func (e *Encoder) Seal(plaintext []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(plaintext, nil)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, compressed, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, e.pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap data key: %w", err)
	}

	blob := make([]byte, 0, len(wrapped)+len(nonce)+len(sealed))
	blob = append(blob, wrapped...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Open reverses Seal: unwrap the data key, decrypt, decompress.
func (e *Encoder) Open(blob []byte) ([]byte, error) {
	wrappedLen := e.priv.Size()
	if len(blob) < wrappedLen+chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("archive blob too short: %d bytes", len(blob))
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, e.priv, blob[:wrappedLen], nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := blob[wrappedLen : wrappedLen+aead.NonceSize()]
	compressed, err := aead.Open(nil, nonce, blob[wrappedLen+aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	plain, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return plain, nil
}
