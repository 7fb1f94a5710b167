// Package useragent rotates browser identities between requests.
package useragent

import (
	"math/rand/v2"
	"sync"
)

// Defaults is the built-in identity pool.
var Defaults = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// Pool hands out a random User-Agent per call.
type Pool struct {
	mu   sync.Mutex
	uas  []string
	pick func(n int) int
}

// New returns a pool over agents, or over Defaults when agents is empty.
func New(agents []string) *Pool {
	uas := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			uas = append(uas, a)
		}
	}
	if len(uas) == 0 {
		uas = append(uas, Defaults...)
	}
	return &Pool{uas: uas, pick: rand.IntN}
}

// Random returns one identity from the pool.
func (p *Pool) Random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.pick(len(p.uas))]
}

// Len reports the pool size.
func (p *Pool) Len() int {
	return len(p.uas)
}
