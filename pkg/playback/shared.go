package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Synthesized audio is content-addressed by file and index, so a generous
// TTL only trades memory for fewer synthesis calls.
const sharedAudioTTL = 24 * time.Hour

// SharedStore is an optional cross-session audio cache consulted before
// synthesizing and written through after.
type SharedStore interface {
	GetAudio(ctx context.Context, fileID string, index int64) ([]byte, bool, error)
	PutAudio(ctx context.Context, fileID string, index int64, audio []byte) error
}

type RedisAudioStore struct {
	client *redis.Client
}

func NewRedisAudioStore(client *redis.Client) *RedisAudioStore {
	return &RedisAudioStore{client: client}
}

func audioKey(fileID string, index int64) string {
	return fmt.Sprintf("tts:audio:%s:%d", fileID, index)
}

func (s *RedisAudioStore) GetAudio(ctx context.Context, fileID string, index int64) ([]byte, bool, error) {
	audio, err := s.client.Get(ctx, audioKey(fileID, index)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return audio, true, nil
}

func (s *RedisAudioStore) PutAudio(ctx context.Context, fileID string, index int64, audio []byte) error {
	return s.client.Set(ctx, audioKey(fileID, index), audio, sharedAudioTTL).Err()
}
