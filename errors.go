package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Error taxonomy: missing/expired/closed rooms are NotFound, capability
// mismatches are Forbidden, and everything else (malformed bodies, settings
// out of range, a start instant in the past) is a validation failure
// surfaced verbatim.
var (
	errRoomNotFound       = errors.New("room not found")
	errHostOnly           = errors.New("host only")
	errUnknownParticipant = errors.New("unknown participant")
	errStartTooSoon       = errors.New("startAt must be >= now + 1000ms (server-based)")
	errInvalidBody        = errors.New("invalid JSON")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, errRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, errHostOnly), errors.Is(err, errUnknownParticipant):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func setupLogging(cfg *Config) {
	zerolog.TimeFieldFormat = logDate
	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: logDate}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
