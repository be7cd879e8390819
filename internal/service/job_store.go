package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediapro/api/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore keeps short-lived job records for status queries.
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	Backend() string
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RedisJobStore stores job records in Redis with a TTL.
type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisJobStore(redisClient *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{redis: redisClient, ttl: ttl}
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) Backend() string {
	return "redis"
}

type memoryRecord struct {
	data    []byte
	expires time.Time
}

// MemoryJobStore is the in-process fallback used when Redis is unavailable.
type MemoryJobStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]memoryRecord
}

func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	return &MemoryJobStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]memoryRecord),
	}
}

func (s *MemoryJobStore) Save(_ context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, rec := range s.records {
		if now.After(rec.expires) {
			delete(s.records, id)
		}
	}
	s.records[job.ID] = memoryRecord{data: data, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	rec, ok := s.records[jobID]
	if ok && s.now().After(rec.expires) {
		delete(s.records, jobID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	var job model.Job
	if err := json.Unmarshal(rec.data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryJobStore) Backend() string {
	return "memory"
}
