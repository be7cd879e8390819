package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediapro/api/internal/model"
)

func TestMemoryJobStore_SaveAndExpire(t *testing.T) {
	store := NewMemoryJobStore(time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }

	job := model.NewJob("job-1", model.OperationInfo, "https://vimeo.com/1")
	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != job.URL || got.State != model.JobStateReceived {
		t.Errorf("got %+v", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(context.Background(), "job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after ttl, got %v", err)
	}
}

func TestMemoryJobStore_DoesNotPersistWorkspacePath(t *testing.T) {
	store := NewMemoryJobStore(time.Hour)
	job := model.NewJob("job-2", model.OperationDownload, "https://vimeo.com/1")
	job.WorkspacePath = "/tmp/mediapro/job-2"

	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorkspacePath != "" {
		t.Errorf("workspace path leaked into record: %q", got.WorkspacePath)
	}
}

func TestRedisJobStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	store := NewRedisJobStore(client, time.Minute)
	job := model.NewJob("redis-job-1", model.OperationInfo, "https://vimeo.com/1")
	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { client.Del(context.Background(), jobKey(job.ID)) })

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("id = %q", got.ID)
	}

	ttl := client.TTL(context.Background(), jobKey(job.ID)).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
