package rate

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// SlidingWindow es un contador por clave en memoria con ventana deslizante
// aproximada: estimado = previa*(1-fracción transcurrida) + actual.
//
// Cada clave tiene contadores atómicos; el mapa solo se bloquea al crear o
// purgar entradas. El rollover de ventana se hace con CAS sobre el inicio de
// ventana, así que un hit concurrente con el rollover puede contarse en
// cualquiera de las dos ventanas.
type SlidingWindow struct {
	max    int64
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*windowCounter

	stopOnce sync.Once
	stop     chan struct{}
}

type windowCounter struct {
	start    atomic.Int64 // UnixNano del inicio de la ventana actual
	curr     atomic.Int64
	prev     atomic.Int64
	lastSeen atomic.Int64
}

// NewSlidingWindow crea el limitador. Si janitor > 0 arranca una goroutine
// que purga claves inactivas; cortarla con Stop.
func NewSlidingWindow(max int, window, janitor time.Duration) *SlidingWindow {
	s := &SlidingWindow{
		max:     int64(max),
		window:  window,
		now:     time.Now,
		entries: make(map[string]*windowCounter),
		stop:    make(chan struct{}),
	}
	if janitor > 0 {
		go s.janitor(janitor)
	}
	return s
}

func (s *SlidingWindow) counter(key string) *windowCounter {
	s.mu.RLock()
	c, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.entries[key]; !ok {
		c = &windowCounter{}
		s.entries[key] = c
	}
	return c
}

// Allow registra un hit para la IP (normalizada con ClientKey). Nunca
// devuelve error.
func (s *SlidingWindow) Allow(_ context.Context, clientIP string) (Result, error) {
	key, family := ClientKey(clientIP)
	now := s.now()
	c := s.counter(key)
	start := now.Truncate(s.window).UnixNano()
	c.lastSeen.Store(now.UnixNano())

	for {
		ws := c.start.Load()
		if ws >= start {
			break
		}
		if c.start.CompareAndSwap(ws, start) {
			last := c.curr.Swap(0)
			if start-ws == s.window.Nanoseconds() {
				c.prev.Store(last)
			} else {
				c.prev.Store(0)
			}
			break
		}
	}

	hits := c.curr.Add(1)
	elapsed := float64(now.UnixNano()-start) / float64(s.window.Nanoseconds())
	estimate := int64(math.Floor(float64(c.prev.Load())*(1-elapsed))) + hits

	windowLeft := time.Duration(start+s.window.Nanoseconds()-now.UnixNano()) * time.Nanosecond
	res := Result{
		Allowed:     estimate <= s.max,
		Remaining:   max(s.max-estimate, 0),
		CurrentHits: estimate,
		WindowTTL:   windowLeft,
		Key:         key,
		Family:      family,
	}
	if !res.Allowed {
		res.RetryAfter = windowLeft
	}
	return res, nil
}

// Len devuelve la cantidad de claves vivas.
func (s *SlidingWindow) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep elimina claves sin actividad en las últimas dos ventanas.
func (s *SlidingWindow) Sweep() {
	cutoff := s.now().Add(-2 * s.window).UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.entries {
		if c.lastSeen.Load() < cutoff {
			delete(s.entries, k)
		}
	}
}

func (s *SlidingWindow) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Stop detiene el janitor (idempotente).
func (s *SlidingWindow) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
