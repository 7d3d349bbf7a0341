package main

import (
	"testing"

	"github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/config"
	"github.com/nugget/agentbot/internal/lock"
)

func TestNewBusDefaultsToMemory(t *testing.T) {
	b, err := newBus(&config.Config{Bus: "memory"}, nil)
	if err != nil {
		t.Fatalf("newBus: %v", err)
	}
	if _, ok := b.(*bus.MemoryBus); !ok {
		t.Fatalf("newBus(memory) = %T, want *bus.MemoryBus", b)
	}
}

func TestNewLockManagerDefaultsToMemory(t *testing.T) {
	m, err := newLockManager(&config.Config{Bus: "memory"})
	if err != nil {
		t.Fatalf("newLockManager: %v", err)
	}
	if _, ok := m.(*lock.MemoryManager); !ok {
		t.Fatalf("newLockManager(memory) = %T, want *lock.MemoryManager", m)
	}
}

func TestNewLockManagerRedisRequiresURL(t *testing.T) {
	if _, err := newLockManager(&config.Config{Bus: "redis"}); err == nil {
		t.Fatal("newLockManager(redis) without a URL: want error, got nil")
	}
	_, err := newLockManager(&config.Config{Bus: "redis", RedisURL: "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("newLockManager(redis): %v", err)
	}
}
