// Package dedup keeps the set of jobs currently in flight so the same
// content is never uploaded by two jobs at once.
package dedup

import (
	"slices"
	"sync"
)

// Token identifies a job. It is a local path or "<client>/<torrent id>".
type Token = string

// Guard is the in-flight token set. The zero value is not usable; call New.
type Guard struct {
	mu     sync.Mutex
	tokens map[Token]struct{}
}

func New() *Guard {
	return &Guard{tokens: make(map[Token]struct{})}
}

// Acquire inserts token when it is not held and returns a release func.
// ok is false when another job already holds token. Release may be called
// any number of times; only the first call removes the token.
func (g *Guard) Acquire(token Token) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.tokens[token]; held {
		return func() {}, false
	}
	g.tokens[token] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.tokens, token)
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether token is currently held.
func (g *Guard) Held(token Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, held := g.tokens[token]
	return held
}

// Tokens returns the held tokens in sorted order.
func (g *Guard) Tokens() []Token {
	g.mu.Lock()
	out := make([]Token, 0, len(g.tokens))
	for t := range g.tokens {
		out = append(out, t)
	}
	g.mu.Unlock()

	slices.Sort(out)
	return out
}
