package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testLogger() *logging.Logger {
	return logging.NewNopLogger()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
