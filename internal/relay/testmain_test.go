package relay

import (
	"os"
	"testing"

	"github.com/suscart-data/freshrelay/internal/monitoring"
)

func TestMain(m *testing.M) {
	// Keep test output readable; relay logging is exercised elsewhere.
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}
