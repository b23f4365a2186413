package memory

import (
	"context"
	"testing"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/ratelimit"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	r := NewRateLimiter()
	defer r.Stop()

	cfg := ratelimit.Config{Rate: 10, Burst: 3, Period: time.Second}
	key := ratelimit.FormatKey(ratelimit.KeyTypeAPIKey, "k1")

	allowed := 0
	for i := 0; i < 5; i++ {
		res, err := r.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if res.Allowed {
			allowed++
		} else if res.RetryAfter <= 0 {
			t.Error("denied result missing RetryAfter")
		}
	}
	if allowed < 3 || allowed >= 5 {
		t.Errorf("allowed %d of 5 burst requests, want 3-4", allowed)
	}
}

func TestRateLimiterDeniesBeyondBurst(t *testing.T) {
	r := NewRateLimiter()
	defer r.Stop()

	// Long period so nothing drains between calls: exactly Burst
	// requests go through.
	cfg := ratelimit.Config{Rate: 10, Burst: 3, Period: time.Hour}
	key := ratelimit.FormatKey(ratelimit.KeyTypeAPIKey, "strict")

	for i := 0; i < 3; i++ {
		res, err := r.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	res, err := r.Allow(context.Background(), key, cfg)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("request beyond burst allowed")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	r := NewRateLimiter()
	defer r.Stop()

	cfg := ratelimit.Config{Rate: 1, Burst: 1, Period: time.Minute}
	a := ratelimit.FormatKey(ratelimit.KeyTypeAPIKey, "a")
	b := ratelimit.FormatKey(ratelimit.KeyTypeAPIKey, "b")

	if res, _ := r.Allow(context.Background(), a, cfg); !res.Allowed {
		t.Fatal("first request on a denied")
	}
	if res, _ := r.Allow(context.Background(), a, cfg); res.Allowed {
		t.Fatal("second request on a allowed")
	}
	if res, _ := r.Allow(context.Background(), b, cfg); !res.Allowed {
		t.Fatal("first request on b denied")
	}
}

func TestRateLimiterRecoversOverTime(t *testing.T) {
	r := NewRateLimiter()
	defer r.Stop()

	cfg := ratelimit.Config{Rate: 100, Burst: 1, Period: time.Second}
	key := ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.1")

	if res, _ := r.Allow(context.Background(), key, cfg); !res.Allowed {
		t.Fatal("first request denied")
	}
	res, _ := r.Allow(context.Background(), key, cfg)
	if res.Allowed {
		t.Fatal("immediate second request allowed")
	}

	time.Sleep(res.RetryAfter + 5*time.Millisecond)
	if res, _ := r.Allow(context.Background(), key, cfg); !res.Allowed {
		t.Error("request after RetryAfter still denied")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	r := NewRateLimiterWithConfig(10*time.Millisecond, 20*time.Millisecond)
	defer r.Stop()

	cfg := ratelimit.Config{Rate: 1, Burst: 1, Period: time.Millisecond}
	if _, err := r.Allow(context.Background(), "ratelimit:ip:stale", cfg); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if r.Size() != 1 {
		t.Fatalf("Size = %d, want 1", r.Size())
	}

	r.StartCleanup(context.Background())
	deadline := time.Now().Add(time.Second)
	for r.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Size() != 0 {
		t.Errorf("stale bucket not cleaned, Size = %d", r.Size())
	}
}
