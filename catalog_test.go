package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadCatalogEmbeddedDefault(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()

	catalog, err := loadCatalog(cfg)

	assert.NoError(err)
	assert.GreaterOrEqual(len(catalog), 3*cfg.handSize)
}

func TestLoadCatalogFromFile(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	cfg.handSize = 2

	path := filepath.Join(t.TempDir(), "cards.txt")
	data := "# comment line\nAnvil\n\n  Bugle  \nCrowbar\nDynamo\nEmber\nFlagon\n"
	assert.NoError(os.WriteFile(path, []byte(data), 0o644))

	cfg.cards = path
	catalog, err := loadCatalog(cfg)

	assert.NoError(err)
	assert.Equal([]Card{"Anvil", "Bugle", "Crowbar", "Dynamo", "Ember", "Flagon"}, catalog)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	cfg.cards = filepath.Join(t.TempDir(), "nope.txt")

	_, err := loadCatalog(cfg)

	assert.Error(err)
}

func TestLoadCatalogTooSmall(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()

	path := filepath.Join(t.TempDir(), "cards.txt")
	assert.NoError(os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	cfg.cards = path
	_, err := loadCatalog(cfg)

	assert.Error(err, "a catalog smaller than three hands cannot host a room")
}

func TestShuffleCardsPreservesMultiset(t *testing.T) {
	assert := assert.New(t)

	original := deckOf(300)
	input := append([]Card(nil), original...)

	shuffled := shuffleCards(input)

	assert.Equal(original, input, "input must not be mutated")
	assert.Len(shuffled, len(original))

	count := func(cards []Card) map[Card]int {
		m := make(map[Card]int)
		for _, c := range cards {
			m[c]++
		}
		return m
	}
	assert.Equal(count(original), count(shuffled))
}

func TestRandomIndexBounds(t *testing.T) {
	assert := assert.New(t)

	for _, n := range []int{1, 2, 7, 52, 300} {
		for i := 0; i < 200; i++ {
			got := randomIndex(n)
			assert.GreaterOrEqual(got, 0)
			assert.Less(got, n)
		}
	}
}
