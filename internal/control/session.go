package control

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/atomic"
)

const inherit = -1

// Session layers per-connection overrides on top of a shared Source.
// Unpinned fields follow the base as it changes.
type Session struct {
	base   Source
	filter atomic.Int32
	noise  atomic.Int64
}

func NewSession(base Source) *Session {
	s := &Session{base: base}
	s.filter.Store(inherit)
	s.noise.Store(inherit)
	return s
}

func (s *Session) Snapshot() Snapshot {
	snap := s.base.Snapshot()
	if f := s.filter.Load(); f != inherit {
		snap.Filter = int(f)
	}
	if n := s.noise.Load(); n != inherit {
		snap.Salt, snap.Pepper = unpackNoise(uint32(n))
	}
	return snap
}

func (s *Session) PinFilter(index int) error {
	if err := ValidateFilter(index); err != nil {
		return err
	}
	s.filter.Store(int32(index))
	return nil
}

func (s *Session) PinNoise(salt, pepper int) error {
	if err := ValidateNoise(salt, pepper); err != nil {
		return err
	}
	s.noise.Store(int64(packNoise(salt, pepper)))
	return nil
}

// Unpin drops every override.
func (s *Session) Unpin() {
	s.filter.Store(inherit)
	s.noise.Store(inherit)
}

// ApplyQuery reads optional filter, salt and pepper parameters. When only one
// noise value is given the other is taken from the current snapshot.
func (s *Session) ApplyQuery(q url.Values) error {
	if v := q.Get("filter"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		if err := s.PinFilter(n); err != nil {
			return err
		}
	}

	saltRaw, pepperRaw := q.Get("salt"), q.Get("pepper")
	if saltRaw == "" && pepperRaw == "" {
		return nil
	}

	current := s.Snapshot()
	salt, pepper := current.Salt, current.Pepper
	var err error
	if saltRaw != "" {
		if salt, err = strconv.Atoi(saltRaw); err != nil {
			return fmt.Errorf("salt: %w", err)
		}
	}
	if pepperRaw != "" {
		if pepper, err = strconv.Atoi(pepperRaw); err != nil {
			return fmt.Errorf("pepper: %w", err)
		}
	}
	return s.PinNoise(salt, pepper)
}

// Message is the JSON a WebSocket client sends to adjust its own stream.
type Message struct {
	Filter *int `json:"filter,omitempty"`
	Salt   *int `json:"salt,omitempty"`
	Pepper *int `json:"pepper,omitempty"`
	Reset  bool `json:"reset,omitempty"`
}

func (s *Session) ApplyMessage(data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode session message: %w", err)
	}

	if msg.Reset {
		s.Unpin()
	}
	if msg.Filter != nil {
		if err := s.PinFilter(*msg.Filter); err != nil {
			return err
		}
	}
	if msg.Salt != nil || msg.Pepper != nil {
		current := s.Snapshot()
		salt, pepper := current.Salt, current.Pepper
		if msg.Salt != nil {
			salt = *msg.Salt
		}
		if msg.Pepper != nil {
			pepper = *msg.Pepper
		}
		if err := s.PinNoise(salt, pepper); err != nil {
			return err
		}
	}
	return nil
}
