package logger

import (
	"io"
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnAndErrorFeedReportCounters(t *testing.T) {
	warnsBefore := atomic.LoadInt64(&warnsFeed)
	errorsBefore := atomic.LoadInt64(&errorsStore)

	log := Logger()
	log.SetOutput(io.Discard)

	log.WithComponent("feed_connection").Warn("socket closed")
	log.WithComponent("store").Error("write failed")

	if got := atomic.LoadInt64(&warnsFeed); got != warnsBefore+1 {
		t.Errorf("feed warn not recorded: %d -> %d", warnsBefore, got)
	}
	if got := atomic.LoadInt64(&errorsStore); got != errorsBefore+1 {
		t.Errorf("store error not recorded: %d -> %d", errorsBefore, got)
	}
}

func TestWarnWithoutComponentIsNotCounted(t *testing.T) {
	warnsBefore := atomic.LoadInt64(&warnsFeed) + atomic.LoadInt64(&warnsStore)

	log := Logger()
	log.SetOutput(io.Discard)
	log.WithFields(Fields{"operation": "startup"}).Warn("no component attached")

	if got := atomic.LoadInt64(&warnsFeed) + atomic.LoadInt64(&warnsStore); got != warnsBefore {
		t.Errorf("componentless warn should not be counted: %d -> %d", warnsBefore, got)
	}
}
