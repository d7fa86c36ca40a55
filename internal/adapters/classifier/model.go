package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// TokenStats counts how often a token was seen in each training class
type TokenStats struct {
	Phish int64 `json:"phish"`
	Ham   int64 `json:"ham"`
}

// Model is a trained token-frequency model
type Model struct {
	Name        string                `json:"name"`
	PhishTokens int64                 `json:"phish_tokens"`
	HamTokens   int64                 `json:"ham_tokens"`
	Tokens      map[string]TokenStats `json:"tokens"`
}

// Loader fetches a model from its backing store
type Loader interface {
	Load(ctx context.Context) (*Model, error)
}

// FileLoader reads a JSON model from disk
type FileLoader struct {
	Path string
}

// Load implements Loader
func (l FileLoader) Load(ctx context.Context) (*Model, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	return &m, validate(&m)
}

// RedisLoader reads a model stored as two hashes: <key> holds name and class
// totals, <key>:tokens maps each token to "phish:ham" counts
type RedisLoader struct {
	Client redis.Cmdable
	Key    string
}

// Load implements Loader
func (l RedisLoader) Load(ctx context.Context) (*Model, error) {
	meta, err := l.Client.HGetAll(ctx, l.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("model %s not found in redis", l.Key)
	}

	m := &Model{Name: meta["name"], Tokens: make(map[string]TokenStats)}
	m.PhishTokens, _ = strconv.ParseInt(meta["phish_tokens"], 10, 64)
	m.HamTokens, _ = strconv.ParseInt(meta["ham_tokens"], 10, 64)

	var cursor uint64
	for {
		fields, next, err := l.Client.HScan(ctx, l.Key+":tokens", cursor, "*", 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan model tokens: %w", err)
		}
		for i := 0; i+1 < len(fields); i += 2 {
			if stats, ok := parseCounts(fields[i+1]); ok {
				m.Tokens[fields[i]] = stats
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	return m, validate(m)
}

// Store writes a model in the layout RedisLoader reads
func (l RedisLoader) Store(ctx context.Context, m *Model) error {
	pipe := l.Client.TxPipeline()
	pipe.Del(ctx, l.Key, l.Key+":tokens")
	pipe.HSet(ctx, l.Key, "name", m.Name, "phish_tokens", m.PhishTokens, "ham_tokens", m.HamTokens)
	if len(m.Tokens) > 0 {
		values := make([]interface{}, 0, len(m.Tokens)*2)
		for token, stats := range m.Tokens {
			values = append(values, token, fmt.Sprintf("%d:%d", stats.Phish, stats.Ham))
		}
		pipe.HSet(ctx, l.Key+":tokens", values...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func parseCounts(v string) (TokenStats, bool) {
	phish, ham, ok := strings.Cut(v, ":")
	if !ok {
		return TokenStats{}, false
	}
	p, err1 := strconv.ParseInt(phish, 10, 64)
	h, err2 := strconv.ParseInt(ham, 10, 64)
	if err1 != nil || err2 != nil {
		return TokenStats{}, false
	}
	return TokenStats{Phish: p, Ham: h}, true
}

func validate(m *Model) error {
	if m.PhishTokens <= 0 || m.HamTokens <= 0 {
		return fmt.Errorf("model %q has no training data", m.Name)
	}
	if m.Name == "" {
		m.Name = "naive-bayes"
	}
	return nil
}
