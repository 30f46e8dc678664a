// ABOUTME: Redis-backed plugin configuration store implementing core.ConfigStore.
// ABOUTME: Each (plugin, scope) record is one hash holding the enabled flag and the JSON config.

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/egidijus/funkwhale/plugins/core"
)

const (
	fieldEnabled = "enabled"
	fieldConf    = "conf"
)

// Config describes the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int

	// Prefix namespaces keys, "funkwhale" when empty.
	Prefix string
}

type Store struct {
	client *redis.Client
	prefix string
}

var _ core.ConfigStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "funkwhale"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(plugin, user string) string {
	if user == core.PodScope {
		return s.prefix + ":plugin:" + plugin + ":pod"
	}
	return s.prefix + ":plugin:" + plugin + ":user:" + user
}

// EffectiveConfigs fetches every pod and user hash in one pipeline.
func (s *Store) EffectiveConfigs(ctx context.Context, names []string, user string) (map[string]core.EffectiveConfig, error) {
	podCmds := make([]*redis.MapStringStringCmd, len(names))
	userCmds := make([]*redis.MapStringStringCmd, len(names))

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			podCmds[i] = pipe.HGetAll(ctx, s.key(name, core.PodScope))
			if user != core.PodScope {
				userCmds[i] = pipe.HGetAll(ctx, s.key(name, user))
			}
		}
		return nil
	})
	if err != nil {
		return nil, core.NewStorageError("load plugin configurations", err)
	}

	pod := make(map[string]core.EffectiveConfig)
	scoped := make(map[string]core.EffectiveConfig)
	for i, name := range names {
		if rec, ok, err := decode(podCmds[i].Val()); err != nil {
			return nil, core.NewStorageError("decode plugin configuration", err)
		} else if ok {
			pod[name] = rec
		}
		if userCmds[i] == nil {
			continue
		}
		if rec, ok, err := decode(userCmds[i].Val()); err != nil {
			return nil, core.NewStorageError("decode plugin configuration", err)
		} else if ok {
			scoped[name] = rec
		}
	}
	return core.Resolve(names, pod, scoped), nil
}

// Upsert replaces the config, creating the record disabled when missing.
func (s *Store) Upsert(ctx context.Context, plugin string, conf map[string]any, user string) error {
	raw, err := json.Marshal(conf)
	if err != nil {
		return core.NewStorageError("encode plugin configuration", err)
	}

	key := s.key(plugin, user)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldConf, string(raw))
		pipe.HSetNX(ctx, key, fieldEnabled, "0")
		return nil
	})
	if err != nil {
		return core.NewStorageError("save plugin configuration", err)
	}
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, plugin string, enabled bool, user string) error {
	if err := s.client.HSet(ctx, s.key(plugin, user), fieldEnabled, strconv.FormatBool(enabled)).Err(); err != nil {
		return core.NewStorageError("update plugin state", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, plugin string, user string) error {
	if err := s.client.Del(ctx, s.key(plugin, user)).Err(); err != nil {
		return core.NewStorageError("delete plugin configuration", err)
	}
	return nil
}

// decode turns a hash into a record. An empty hash means no record.
func decode(fields map[string]string) (core.EffectiveConfig, bool, error) {
	if len(fields) == 0 {
		return core.EffectiveConfig{}, false, nil
	}

	var rec core.EffectiveConfig
	if v, ok := fields[fieldEnabled]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return rec, false, fmt.Errorf("invalid enabled flag %q: %w", v, err)
		}
		rec.Enabled = enabled
	}
	if raw, ok := fields[fieldConf]; ok {
		conf, err := decodeConf(raw)
		if err != nil {
			return rec, false, err
		}
		rec.Conf = conf
	}
	return rec, true, nil
}

// decodeConf restores integers as int. Numbers outside the int range stay
// float64.
func decodeConf(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var conf map[string]any
	if err := dec.Decode(&conf); err != nil {
		return nil, err
	}
	for k, v := range conf {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			conf[k] = int(i)
		} else if f, err := n.Float64(); err == nil {
			conf[k] = f
		}
	}
	return conf, nil
}
