package api

import (
	"testing"

	"github.com/suscart-data/freshrelay/internal/monitoring"
)

func TestMain(m *testing.M) {
	// Keep request logging out of test output.
	monitoring.SetLogger(nil)
	m.Run()
}
