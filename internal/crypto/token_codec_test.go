package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNewTokenCodec(t *testing.T) {
	t.Run("ValidKey", func(t *testing.T) {
		codec, err := NewTokenCodec(testKey(t))
		require.NoError(t, err)
		assert.NotNil(t, codec)
	})

	t.Run("WrongKeyLength", func(t *testing.T) {
		_, err := NewTokenCodec(make([]byte, 16))
		assert.Error(t, err)
	})

	t.Run("FromHex", func(t *testing.T) {
		codec, err := NewTokenCodecFromHex(hex.EncodeToString(testKey(t)))
		require.NoError(t, err)
		assert.NotNil(t, codec)
	})

	t.Run("FromInvalidHex", func(t *testing.T) {
		_, err := NewTokenCodecFromHex("not-hex")
		assert.Error(t, err)
	})
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec, err := NewTokenCodec(testKey(t))
	require.NoError(t, err)

	before := time.Now().Unix()
	token, err := codec.Generate("sess-123", "user-456")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	payload, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", payload.SessionID)
	assert.Equal(t, "user-456", payload.UserID)
	assert.GreaterOrEqual(t, payload.CreatedAt, before)
	assert.LessOrEqual(t, payload.CreatedAt, time.Now().Unix())
}

func TestTokenCodec_FreshIVPerToken(t *testing.T) {
	codec, err := NewTokenCodec(testKey(t))
	require.NoError(t, err)

	first, err := codec.Generate("sess-123", "user-456")
	require.NoError(t, err)
	second, err := codec.Generate("sess-123", "user-456")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenCodec_DecodeFailures(t *testing.T) {
	codec, err := NewTokenCodec(testKey(t))
	require.NoError(t, err)

	token, err := codec.Generate("sess-123", "user-456")
	require.NoError(t, err)

	t.Run("NotBase64", func(t *testing.T) {
		_, err := codec.Decode("%%%not-base64%%%")
		assert.ErrorIs(t, err, ErrTokenDecode)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := codec.Decode(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.ErrorIs(t, err, ErrTokenDecode)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := NewTokenCodec(testKey(t))
		require.NoError(t, err)
		_, err = other.Decode(token)
		assert.ErrorIs(t, err, ErrTokenDecode)
	})

	t.Run("TamperedCiphertext", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(token)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		_, err = codec.Decode(base64.StdEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrTokenDecode)
	})

	t.Run("TruncatedToBlockBoundary", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(token)
		require.NoError(t, err)
		_, err = codec.Decode(base64.StdEncoding.EncodeToString(raw[:16]))
		assert.ErrorIs(t, err, ErrTokenDecode)
	})
}

func TestTokenCodec_MissingFields(t *testing.T) {
	// A structurally valid ciphertext whose JSON lacks required fields must
	// still fail closed.
	codec, err := NewTokenCodec(testKey(t))
	require.NoError(t, err)

	token, err := codec.encryptJSON([]byte(`{"created_at":1}`))
	require.NoError(t, err)

	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrTokenDecode)
}
