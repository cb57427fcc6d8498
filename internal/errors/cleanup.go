// Package errors provides cleanup helpers that log instead of dropping errors.
package errors

import (
	"github.com/rs/zerolog"
)

// DeferRestore runs a restore step (page protections, signal masks) from a
// defer statement. A failed restore is logged at error level since the
// process keeps running in the altered state.
func DeferRestore(logger zerolog.Logger, restore func() error, msg string) {
	if restore == nil {
		return
	}
	if err := restore(); err != nil {
		logger.Error().Err(err).Msg(msg)
	}
}
