package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source источник случайности для назначения персонажей, выбора ботов и таймингов.
type Source interface {
	// IntN равномерно в [0, n). n > 0.
	IntN(n int) int
	// Float64 равномерно в [0, 1).
	Float64() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New источник с заданным зерном, безопасный для конкурентного использования.
func New(seed uint64) Source {
	return &lockedSource{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeeded источник для продакшена.
func NewTimeSeeded() Source {
	return New(uint64(time.Now().UnixNano()))
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// Between равномерная длительность в [min, max].
func Between(src Source, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(src.IntN(int(max-min)+1))
}

// Pick равномерно выбирает элемент непустого среза.
func Pick[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}
