package dice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
)

// MaxBroadcastRange is the largest finite broadcast.range. Its square still
// fits in an int64 distance comparison.
const MaxBroadcastRange = math.MaxInt32

// Defaults used when a key is absent from the plugin config.
const (
	DefaultBroadcastMessage = "&6{PLAYER} &7rolled &e{RESULT} &7({COUNT}d{SIDES}, total &e{TOTAL}&7)"
	DefaultPrivateMessage   = "&7You rolled &e{RESULT} &7({COUNT}d{SIDES}, total &e{TOTAL}&7)"

	DefaultRange      = -1
	DefaultCrossWorld = false
	DefaultCount      = 1
	DefaultSides      = 6
	DefaultMaxCount   = 6
	DefaultMaxSides   = 20
	DefaultLogging    = false
)

// Settings is one immutable snapshot of the dice configuration.
// Pointer fields distinguish "absent" (use default) from an explicit zero value,
// so an explicit empty template stays empty.
type Settings struct {
	Message   MessageSettings   `json:"message"`
	Broadcast BroadcastSettings `json:"broadcast"`
	Default   DiceSettings      `json:"default"`
	Maximum   DiceSettings      `json:"maximum"`
	Logging   *bool             `json:"logging,omitempty"`
}

type MessageSettings struct {
	Broadcast *string `json:"broadcast,omitempty"`
	Private   *string `json:"private,omitempty"`
}

type BroadcastSettings struct {
	// Range in blocks; negative disables the distance filter.
	Range      *int  `json:"range,omitempty"`
	CrossWorld *bool `json:"crossworld,omitempty"`
}

type DiceSettings struct {
	Count *int `json:"count,omitempty"`
	Sides *int `json:"sides,omitempty"`
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (s *Settings) BroadcastMessage() string {
	if s == nil {
		return DefaultBroadcastMessage
	}
	return strOr(s.Message.Broadcast, DefaultBroadcastMessage)
}

func (s *Settings) PrivateMessage() string {
	if s == nil {
		return DefaultPrivateMessage
	}
	return strOr(s.Message.Private, DefaultPrivateMessage)
}

func (s *Settings) BroadcastRange() int {
	if s == nil {
		return DefaultRange
	}
	return intOr(s.Broadcast.Range, DefaultRange)
}

func (s *Settings) CrossWorld() bool {
	if s == nil {
		return DefaultCrossWorld
	}
	return boolOr(s.Broadcast.CrossWorld, DefaultCrossWorld)
}

func (s *Settings) DefaultCount() int {
	if s == nil {
		return DefaultCount
	}
	return intOr(s.Default.Count, DefaultCount)
}

func (s *Settings) DefaultSides() int {
	if s == nil {
		return DefaultSides
	}
	return intOr(s.Default.Sides, DefaultSides)
}

func (s *Settings) MaximumCount() int {
	if s == nil {
		return DefaultMaxCount
	}
	return intOr(s.Maximum.Count, DefaultMaxCount)
}

func (s *Settings) MaximumSides() int {
	if s == nil {
		return DefaultMaxSides
	}
	return intOr(s.Maximum.Sides, DefaultMaxSides)
}

func (s *Settings) LoggingEnabled() bool {
	if s == nil {
		return DefaultLogging
	}
	return boolOr(s.Logging, DefaultLogging)
}

// Validate rejects settings under which no roll could ever succeed.
func (s *Settings) Validate() error {
	var errs []error
	if s.MaximumCount() < 1 {
		errs = append(errs, fmt.Errorf("maximum.count must be >= 1 (got %d)", s.MaximumCount()))
	}
	if s.MaximumSides() < 2 {
		errs = append(errs, fmt.Errorf("maximum.sides must be >= 2 (got %d)", s.MaximumSides()))
	}
	if s.BroadcastRange() > MaxBroadcastRange {
		errs = append(errs, fmt.Errorf("broadcast.range must be <= %d (got %d)", MaxBroadcastRange, s.BroadcastRange()))
	}
	return errors.Join(errs...)
}

// DecodeSettings strictly decodes a plugin config block. Empty input yields defaults.
func DecodeSettings(raw json.RawMessage) (*Settings, error) {
	s := &Settings{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("decode dice settings: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("decode dice settings: trailing data")
	}
	return s, nil
}

// Store holds the live snapshot. Readers never observe a partial update.
type Store struct {
	p atomic.Pointer[Settings]
}

func NewStore(s *Settings) *Store {
	st := &Store{}
	st.Swap(s)
	return st
}

// Load returns the current snapshot; never nil.
func (st *Store) Load() *Settings {
	if s := st.p.Load(); s != nil {
		return s
	}
	return &Settings{}
}

// Swap replaces the snapshot wholesale and returns the previous one.
func (st *Store) Swap(s *Settings) *Settings {
	if s == nil {
		s = &Settings{}
	}
	return st.p.Swap(s)
}
