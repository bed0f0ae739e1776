package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

const seedYAML = `
hero_content:
  - name: Jane Doe
    title_line1: Building
stats:
  - value: "20+"
    label: Years
  - value: "40"
    label: Markets
newsletter_subscriptions:
  - email: a@example.com
  - email: a@example.com
`

func TestSeed(t *testing.T) {
	logger = zerolog.Nop()
	ctx := context.Background()
	reg := schema.Default()
	mem := repository.NewMemory(reg)

	var content map[string][]repository.Row
	require.NoError(t, yaml.Unmarshal([]byte(seedYAML), &content))
	require.NoError(t, seed(ctx, reg, mem, content))

	n, err := mem.Count(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = mem.Count(ctx, "newsletter_subscriptions")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate unique rows are skipped")

	content = map[string][]repository.Row{"hero_content": {{"name": "John Roe"}}}
	require.NoError(t, seed(ctx, reg, mem, content))
	hero, err := mem.FetchOne(ctx, "hero_content")
	require.NoError(t, err)
	assert.Equal(t, "John Roe", hero["name"])
}

func TestSeedRejectsBadContent(t *testing.T) {
	logger = zerolog.Nop()
	ctx := context.Background()
	reg := schema.Default()
	mem := repository.NewMemory(reg)

	cases := map[string]map[string][]repository.Row{
		"unknown collection": {"nope": {{"a": 1}}},
		"unknown field":      {"stats": {{"value": "1", "label": "x", "color": "red"}}},
		"missing required":   {"stats": {{"value": "1"}}},
		"two singleton rows": {"hero_content": {{"name": "a"}, {"name": "b"}}},
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, seed(ctx, reg, mem, content))
		})
	}
}
