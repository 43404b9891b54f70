package db

import "fmt"

// RedisKeyBuilder provides methods to build Redis keys following the defined
// patterns
type RedisKeyBuilder struct{}

// NewRedisKeyBuilder creates a new Redis key builder
func NewRedisKeyBuilder() *RedisKeyBuilder {
	return &RedisKeyBuilder{}
}

// SessionKey builds the key for a CMS session record
func (b *RedisKeyBuilder) SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
