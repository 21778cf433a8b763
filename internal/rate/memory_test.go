package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUpToLimit(t *testing.T) {
	l := NewMemory(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(context.Background(), "acct-1", now)
		if err != nil {
			t.Fatalf("allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := l.Allow(context.Background(), "acct-1", now)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if allowed {
		t.Fatalf("fourth request should be limited")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %s", retryAfter)
	}
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	l := NewMemory(1, time.Minute)
	now := time.Now()

	if allowed, _, _ := l.Allow(context.Background(), "acct-1", now); !allowed {
		t.Fatalf("first key should be allowed")
	}
	if allowed, _, _ := l.Allow(context.Background(), "acct-2", now); !allowed {
		t.Fatalf("second key should be allowed")
	}
	if allowed, _, _ := l.Allow(context.Background(), "acct-1", now); allowed {
		t.Fatalf("first key should now be limited")
	}
}

func TestMemoryLimiterResetsAfterWindow(t *testing.T) {
	l := NewMemory(1, time.Minute)
	now := time.Now()

	if allowed, _, _ := l.Allow(context.Background(), "acct-1", now); !allowed {
		t.Fatalf("first request should be allowed")
	}
	if allowed, _, _ := l.Allow(context.Background(), "acct-1", now); allowed {
		t.Fatalf("second request in window should be limited")
	}

	later := now.Add(time.Minute + time.Second)
	if allowed, _, _ := l.Allow(context.Background(), "acct-1", later); !allowed {
		t.Fatalf("request after window should be allowed")
	}
}
