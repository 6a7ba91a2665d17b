package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The live run and the dry-run report must reject the same scope set, and
// must do so before touching any dependency.
func TestUnknownScopeRejected(t *testing.T) {
	for _, scope := range []string{"registrations", "all", ""} {
		err := runScoped(context.Background(), nil, scope)
		assert.ErrorContains(t, err, "unknown scope")

		err = reportEligible(context.Background(), nil, scope)
		assert.ErrorContains(t, err, "unknown scope")
	}
}
