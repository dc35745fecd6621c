package util

import (
	"sync"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("VAPEBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("VAPEBOT_TEST_BOOL", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("VAPEBOT_TEST_DUR", "45m")
	if got := ParseDurationEnv("VAPEBOT_TEST_DUR", time.Hour); got != 45*time.Minute {
		t.Errorf("expected 45m, got %v", got)
	}
	t.Setenv("VAPEBOT_TEST_DUR", "-1s")
	if got := ParseDurationEnv("VAPEBOT_TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("expected default for negative duration, got %v", got)
	}
	t.Setenv("VAPEBOT_TEST_DUR", "soon")
	if got := ParseDurationEnv("VAPEBOT_TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("expected default for invalid duration, got %v", got)
	}
}

func TestKeyedMutexTryLock(t *testing.T) {
	k := NewKeyedMutex()
	unlock, ok := k.TryLock("a")
	if !ok {
		t.Fatal("first TryLock should succeed")
	}
	if _, ok := k.TryLock("a"); ok {
		t.Fatal("second TryLock on held key should fail")
	}
	unlockB, ok := k.TryLock("b")
	if !ok {
		t.Fatal("TryLock on a different key should succeed")
	}
	unlockB()
	unlock()
	if n := k.Len(); n != 0 {
		t.Errorf("expected no tracked keys after release, got %d", n)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
	if n := k.Len(); n != 0 {
		t.Errorf("expected no tracked keys after release, got %d", n)
	}
}
