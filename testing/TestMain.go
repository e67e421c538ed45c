// Package testing switches the process into test mode when imported by a test binary.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("KINSI_TEST_MODE", "1")
		// Keep sessions in memory unless a test points at a Redis server.
		if _, ok := os.LookupEnv("KINSI_REDIS_ADDR"); !ok {
			_ = os.Setenv("KINSI_REDIS_ADDR", "")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
