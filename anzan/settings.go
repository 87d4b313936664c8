// Package anzan holds the presentation settings and the deterministic
// sequence generator. Generation is a pure function of seed+settings, so
// every participant derives the same terms locally and no term data ever
// crosses the network.
package anzan

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf16"
)

// Arithmetic modes.
const (
	ModeAdd   = "add"
	ModeSub   = "sub"
	ModeMixed = "mixed"
)

const maxSeedLength = 64

// Settings is validated once at room creation and then broadcast verbatim in
// every snapshot. The field order is the canonical serialization order fed to
// the seed hash, so it must not be rearranged.
type Settings struct {
	Tempo         float64 `json:"tempo"`
	Terms         int     `json:"terms"`
	Digits        int     `json:"digits"`
	Mode          string  `json:"mode"`
	AllowNegative bool    `json:"allowNegative"`
	Countdown     int     `json:"countdown"`
	Beep          bool    `json:"beep"`
	Seed          string  `json:"seed"`
	StartAt       *int64  `json:"startAt,omitempty"`
}

// Validate checks every field against its allowed range or set and
// normalizes the seed (trimmed, length-capped). The error text is surfaced
// verbatim to the user.
func (s *Settings) Validate() error {
	if !(s.Tempo > 0.2 && s.Tempo <= 5) {
		return errors.New("tempo out of range")
	}

	switch s.Terms {
	case 10, 15, 20, 30:
	default:
		return errors.New("invalid terms")
	}

	switch s.Digits {
	case 1, 2, 3:
	default:
		return errors.New("invalid digits")
	}

	switch s.Mode {
	case ModeAdd, ModeSub, ModeMixed:
	default:
		return errors.New("invalid mode")
	}

	switch s.Countdown {
	case 3, 5, 10:
	default:
		return errors.New("invalid countdown")
	}

	// The length cap counts UTF-16 code units, the unit every client
	// implementation slices and hashes by.
	seed := strings.TrimSpace(s.Seed)
	if units := utf16.Encode([]rune(seed)); len(units) > maxSeedLength {
		seed = string(utf16.Decode(units[:maxSeedLength]))
	}
	if seed == "" {
		return errors.New("seed required")
	}
	s.Seed = seed

	return nil
}

// canonical is the serialization hashed together with the seed. Once a start
// is scheduled it includes startAt, so a rescheduled round reshuffles the
// terms; all participants receive the same snapshot and stay in lockstep.
// HTML escaping is disabled: other clients hash the plain serialization, so
// a seed like "a&b" must not become "a&b" here.
func (s Settings) canonical() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return ""
	}

	return strings.TrimSuffix(buf.String(), "\n")
}
