//go:build integration

package source_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/source"
	"github.com/rafaeljc/gatekeeper/internal/testsupport"
)

func TestRedisSource_Integration(t *testing.T) {
	ctx := context.Background()
	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	rc := cache.NewRulesetCache(redisCtr.Client, "gatekeeper:test:ruleset")
	src := source.NewRedis(rc, 2*time.Second)

	t.Run("Should fail before anything is published", func(t *testing.T) {
		_, err := src.FetchRawConfig(ctx)
		assert.ErrorIs(t, err, cache.ErrRulesetNotPublished)
	})

	t.Run("Should decode the published document", func(t *testing.T) {
		doc := []byte("rules:\n  beta:\n    type: static\n    value: true\n")
		require.NoError(t, rc.Publish(ctx, &cache.RulesetDocument{Version: 1, Checksum: "abc", Data: doc}))

		raw, err := src.FetchRawConfig(ctx)

		require.NoError(t, err)
		cfg, err := ruleset.ParseConfig(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, cfg.Names())
	})

	t.Run("Should build redis then file from remote mode", func(t *testing.T) {
		sources, err := source.FromConfig(&config.RulesConfig{
			Mode:     config.RulesModeRemote,
			FilePath: "rules.yaml",
			RedisKey: "gatekeeper:test:ruleset",
		}, source.Deps{Redis: redisCtr.Client})

		require.NoError(t, err)
		require.Len(t, sources, 2)
		assert.Equal(t, "redis", sources[0].Name())
		assert.Equal(t, "file", sources[1].Name())
	})
}
