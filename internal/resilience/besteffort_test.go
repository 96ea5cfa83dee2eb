package resilience

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunBestEffortSwallowsErrors(t *testing.T) {
	ran := false
	RunBestEffort(zerolog.Nop(), "audit", func() error {
		ran = true
		return errors.New("db down")
	})

	assert.True(t, ran)
}

func TestRunBestEffortRecoversPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		RunBestEffort(zerolog.Nop(), "cache", func() error {
			panic("redis client nil")
		})
	})
}
