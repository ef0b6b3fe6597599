package ratelimit

import (
	"testing"
	"time"
)

func generous() Config {
	return Config{MaxRequests: 1000, Window: time.Second}
}

func TestLimiter_SessionBucket(t *testing.T) {
	l := New(Config{MaxRequests: 3, Window: time.Second}, generous(), generous())

	for i := 0; i < 3; i++ {
		if err := l.CheckSession("s1"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if err := l.CheckSession("s1"); err == nil {
		t.Error("fourth check succeeded, want rate limit error")
	}
}

func TestLimiter_ToolBucket(t *testing.T) {
	l := New(generous(), Config{MaxRequests: 2, Window: time.Second}, generous())

	l.CheckTool("fs.read")
	l.CheckTool("fs.read")
	if err := l.CheckTool("fs.read"); err == nil {
		t.Error("third check succeeded, want rate limit error")
	}
}

func TestLimiter_GlobalBucket(t *testing.T) {
	l := New(generous(), generous(), Config{MaxRequests: 5, Window: time.Second})

	for i := 0; i < 5; i++ {
		if err := l.CheckGlobal(); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if err := l.CheckGlobal(); err == nil {
		t.Error("sixth check succeeded, want rate limit error")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: 50 * time.Millisecond}, generous(), generous())

	l.CheckSession("s1")
	l.CheckSession("s1")
	if err := l.CheckSession("s1"); err == nil {
		t.Fatal("exhausted bucket still passing")
	}

	time.Sleep(80 * time.Millisecond)

	if err := l.CheckSession("s1"); err != nil {
		t.Errorf("check after window elapsed: %v", err)
	}
}

func TestLimiter_KeyIsolation(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: time.Second},
		Config{MaxRequests: 2, Window: time.Second}, generous())

	l.CheckSession("s1")
	l.CheckSession("s1")
	if err := l.CheckSession("s1"); err == nil {
		t.Fatal("s1 not exhausted")
	}
	if err := l.CheckSession("s2"); err != nil {
		t.Errorf("s2 affected by s1's bucket: %v", err)
	}

	l.CheckTool("a")
	l.CheckTool("a")
	if err := l.CheckTool("a"); err == nil {
		t.Fatal("tool a not exhausted")
	}
	if err := l.CheckTool("b"); err != nil {
		t.Errorf("tool b affected by a's bucket: %v", err)
	}
}

func TestLimiter_CheckAllShortCircuits(t *testing.T) {
	l := New(Config{MaxRequests: 3, Window: time.Second},
		Config{MaxRequests: 3, Window: time.Second},
		Config{MaxRequests: 2, Window: time.Second})

	if err := l.CheckAll("s1", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := l.CheckAll("s1", "t1"); err != nil {
		t.Fatal(err)
	}
	// Global bucket is now empty; session and tool buckets must not be
	// consumed further.
	if err := l.CheckAll("s1", "t1"); err == nil {
		t.Error("CheckAll succeeded with empty global bucket")
	}
	if err := l.CheckSession("s1"); err != nil {
		t.Errorf("session bucket consumed by short-circuited CheckAll: %v", err)
	}
	if err := l.CheckTool("t1"); err != nil {
		t.Errorf("tool bucket consumed by short-circuited CheckAll: %v", err)
	}
}
