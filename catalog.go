package main

import (
	"bufio"
	"crypto/rand"
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// Card is an opaque value whose identity is its content. The catalog may
// contain duplicates, in which case multiple copies circulate independently.
type Card string

//go:embed cards/default.txt
var defaultCatalog string

// loadCatalog reads the card catalog once at startup, either from the file
// named by --cards or from the embedded default. One card per line; blank
// lines and lines starting with '#' are skipped.
func loadCatalog(cfg *Config) ([]Card, error) {
	raw := defaultCatalog

	if cfg.cards != "" {
		data, err := os.ReadFile(cfg.cards)
		if err != nil {
			return nil, fmt.Errorf("reading card catalog: %w", err)
		}
		raw = string(data)
	}

	var catalog []Card

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		catalog = append(catalog, Card(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading card catalog: %w", err)
	}

	// A room needs enough cards to keep a few hands in play at once.
	if len(catalog) < 3*cfg.handSize {
		return nil, fmt.Errorf("card catalog too small: %d cards, need at least %d", len(catalog), 3*cfg.handSize)
	}

	return catalog, nil
}

// shuffleCards returns a shuffled copy, leaving the input untouched.
// Fisher-Yates using crypto/rand; randomness here is not security-sensitive,
// but crypto/rand needs no seeding and is plenty fast for deck sizes.
func shuffleCards(cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)

	for i := len(out) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		out[i], out[j] = out[j], out[i]
	}

	return out
}

// randomIndex returns a uniform value in [0, n) via rejection sampling.
func randomIndex(n int) int {
	limit := (uint64(1) << 32) / uint64(n) * uint64(n)
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		v := uint64(binary.BigEndian.Uint32(b[:]))
		if v < limit {
			return int(v % uint64(n))
		}
	}
}
