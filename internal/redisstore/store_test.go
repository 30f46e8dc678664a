// ABOUTME: Tests for the Redis plugin configuration store.
// ABOUTME: Hash decoding runs everywhere; round trips need FUNKWHALE_TEST_REDIS_ADDR.

package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egidijus/funkwhale/plugins/core"
)

func setupRedis(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("FUNKWHALE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FUNKWHALE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("funkwhale-test-%d", time.Now().UnixNano())
	s, err := New(ctx, Config{Address: addr, Prefix: prefix})
	require.NoError(t, err)

	t.Cleanup(func() {
		keys, _ := s.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		s.Close()
	})
	return s
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	s := NewWithClient(nil, "")
	assert.Equal(t, "funkwhale:plugin:scrobbler:pod", s.key("scrobbler", core.PodScope))
	assert.Equal(t, "funkwhale:plugin:scrobbler:user:alice", s.key("scrobbler", "alice"))
}

func TestDecode(t *testing.T) {
	_, ok, err := decode(map[string]string{})
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err := decode(map[string]string{fieldEnabled: "true", fieldConf: `{"username":"alice","retries":3}`})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.Enabled)
	assert.Equal(t, map[string]any{"username": "alice", "retries": 3}, rec.Conf)

	// Numbers beyond the int range are kept as float64.
	rec, _, err = decode(map[string]string{fieldConf: `{"limit":1e300,"ratio":0.5}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": 1e300, "ratio": 0.5}, rec.Conf)

	rec, ok, err = decode(map[string]string{fieldEnabled: "0"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, rec.Enabled)
	assert.Nil(t, rec.Conf)

	_, _, err = decode(map[string]string{fieldEnabled: "maybe"})
	assert.Error(t, err)

	_, _, err = decode(map[string]string{fieldConf: "{"})
	assert.Error(t, err)
}

func TestEffectiveConfigs_Scopes(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	require.NoError(t, s.Upsert(ctx, "scrobbler", map[string]any{"username": "pod"}, core.PodScope))
	require.NoError(t, s.SetEnabled(ctx, "scrobbler", true, core.PodScope))
	require.NoError(t, s.Upsert(ctx, "scrobbler", map[string]any{"username": "alice"}, "alice"))

	names := []string{"scrobbler", "listenbrainz"}

	alice, err := s.EffectiveConfigs(ctx, names, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice["scrobbler"].Conf["username"])
	assert.False(t, alice["scrobbler"].Enabled)
	assert.Equal(t, core.EffectiveConfig{}, alice["listenbrainz"])

	bob, err := s.EffectiveConfigs(ctx, names, "bob")
	require.NoError(t, err)
	assert.Equal(t, "pod", bob["scrobbler"].Conf["username"])
	assert.True(t, bob["scrobbler"].Enabled)
}

func TestUpsert_KeepsEnabled(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	require.NoError(t, s.SetEnabled(ctx, "p", true, "alice"))
	require.NoError(t, s.Upsert(ctx, "p", map[string]any{"token": "abc"}, "alice"))

	confs, err := s.EffectiveConfigs(ctx, []string{"p"}, "alice")
	require.NoError(t, err)
	assert.True(t, confs["p"].Enabled)
	assert.Equal(t, "abc", confs["p"].Conf["token"])
}

func TestDelete_FallsBackToPod(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	require.NoError(t, s.Upsert(ctx, "p", map[string]any{"v": "pod"}, core.PodScope))
	require.NoError(t, s.Upsert(ctx, "p", map[string]any{"v": "alice"}, "alice"))
	require.NoError(t, s.Delete(ctx, "p", "alice"))

	confs, err := s.EffectiveConfigs(ctx, []string{"p"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pod", confs["p"].Conf["v"])
}
