// Package control holds the user-adjustable stream settings: which filter is
// shown and how much salt and pepper noise is injected.
package control

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

var (
	ErrFilterOutOfRange = errors.New("filter index out of range")
	ErrNoiseOutOfRange  = errors.New("noise percentage out of range")
)

type FilterInfo struct {
	Name  string
	Label string
}

// Filters lists the filter bank outputs in selection order.
var Filters = [...]FilterInfo{
	{Name: "original", Label: "Imagen Original"},
	{Name: "knn", Label: "Resta de Fondo con KNN"},
	{Name: "equalized", Label: "Ecualización de Histograma"},
	{Name: "clahe", Label: "CLAHE"},
	{Name: "salt_pepper", Label: "Ruido Sal y Pimienta"},
	{Name: "median", Label: "Mediana Filtrada"},
	{Name: "blur", Label: "Gaussiano Filtrado"},
	{Name: "canny", Label: "Canny"},
	{Name: "sobel", Label: "Sobel"},
}

const FilterCount = len(Filters)

const subscriberBuffer = 8

type Snapshot struct {
	Filter int `json:"filter"`
	Salt   int `json:"salt"`
	Pepper int `json:"pepper"`
}

// Source is anything the pipeline can read the current settings from.
type Source interface {
	Snapshot() Snapshot
}

func ValidateFilter(index int) error {
	if index < 0 || index >= FilterCount {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrFilterOutOfRange, index, FilterCount)
	}
	return nil
}

func ValidateNoise(salt, pepper int) error {
	if salt < 0 || salt > 100 || pepper < 0 || pepper > 100 {
		return fmt.Errorf("%w: salt=%d pepper=%d not in [0, 100]", ErrNoiseOutOfRange, salt, pepper)
	}
	return nil
}

// packNoise keeps salt and pepper in one word so readers never observe a
// half-applied update.
func packNoise(salt, pepper int) uint32 {
	return uint32(salt)<<16 | uint32(pepper)
}

func unpackNoise(v uint32) (salt, pepper int) {
	return int(v >> 16), int(v & 0xFFFF)
}

// Settings is the process-wide default shared by every stream.
type Settings struct {
	filter atomic.Int32
	noise  atomic.Uint32

	mu          sync.Mutex
	subscribers map[string]chan Snapshot
	closed      bool
}

func NewSettings(filter, salt, pepper int) (*Settings, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	if err := ValidateNoise(salt, pepper); err != nil {
		return nil, err
	}

	s := &Settings{subscribers: make(map[string]chan Snapshot)}
	s.filter.Store(int32(filter))
	s.noise.Store(packNoise(salt, pepper))
	return s, nil
}

func (s *Settings) Snapshot() Snapshot {
	salt, pepper := unpackNoise(s.noise.Load())
	return Snapshot{
		Filter: int(s.filter.Load()),
		Salt:   salt,
		Pepper: pepper,
	}
}

func (s *Settings) SetFilter(index int) error {
	if err := ValidateFilter(index); err != nil {
		return err
	}
	if s.filter.Swap(int32(index)) != int32(index) {
		s.publish()
	}
	return nil
}

func (s *Settings) SetNoise(salt, pepper int) error {
	if err := ValidateNoise(salt, pepper); err != nil {
		return err
	}
	packed := packNoise(salt, pepper)
	if s.noise.Swap(packed) != packed {
		s.publish()
	}
	return nil
}

// Subscribe returns a channel that receives a Snapshot after every change.
// Slow readers miss intermediate updates instead of blocking writers.
func (s *Settings) Subscribe() (string, <-chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Snapshot, subscriberBuffer)
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *Settings) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Close closes every subscriber channel. Later changes are not published.
func (s *Settings) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Settings) publish() {
	snap := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
