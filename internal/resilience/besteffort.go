package resilience

import (
	"github.com/rs/zerolog"
)

// RunBestEffort executes an auxiliary side effect whose failure must never
// affect the primary outcome: the error (or panic) is logged and swallowed.
// Used for audit log appends, cache invalidation, folder upsert degradation
// and document archival.
func RunBestEffort(log zerolog.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("side_effect", name).Interface("panic", r).Msg("best-effort side effect panicked")
		}
	}()

	if err := fn(); err != nil {
		log.Warn().Str("side_effect", name).Err(err).Msg("best-effort side effect failed")
	}
}
