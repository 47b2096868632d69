package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("SETTLEMENT_TEST_MODE", "1")
		if os.Getenv("PUBSUB_PROJECT_ID") == "" {
			_ = os.Setenv("PUBSUB_PROJECT_ID", "settlement-test")
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
