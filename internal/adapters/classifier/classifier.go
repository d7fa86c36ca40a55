package classifier

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

const (
	minTokenLength = 3
	maxTokenLength = 32
	maxTokens      = 1000
	maxProbs       = 15
	significance   = 0.1

	loadTimeout   = 30 * time.Second
	retryInterval = 30 * time.Second
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Classifier is a naive-Bayes scorer. The model is loaded on first use
// and is read-only once loaded. A failed load is retried after
// retryInterval.
type Classifier struct {
	loader Loader
	logger *zap.Logger

	mu            sync.Mutex
	model         *Model
	err           error
	failedAt      time.Time
	retryInterval time.Duration
	now           func() time.Time
}

// New creates a classifier that loads its model lazily from loader
func New(loader Loader, logger *zap.Logger) *Classifier {
	return &Classifier{
		loader:        loader,
		logger:        logger,
		retryInterval: retryInterval,
		now:           time.Now,
	}
}

// Score implements core.Scorer
func (c *Classifier) Score(ctx context.Context, text string) core.ScoreResult {
	model, err := c.loadModel()
	if err != nil {
		return core.ScoreResult{Err: err}
	}

	score, used := model.classify(tokenize(text))
	return core.ScoreResult{
		Score:      score,
		Confidence: math.Min(1, float64(used)/maxProbs),
		Available:  true,
		Model:      model.Name,
	}
}

// loadModel runs at most one load at a time and caches only success. The
// load is detached from any request context.
func (c *Classifier) loadModel() (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil {
		return c.model, nil
	}
	if c.err != nil && c.now().Sub(c.failedAt) < c.retryInterval {
		return nil, c.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	model, err := c.loader.Load(ctx)
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		c.err, c.failedAt = err, c.now()
		c.logger.Error("Failed to load classifier model", zap.Error(err))
		return nil, err
	}

	c.model, c.err = model, nil
	c.logger.Info("Classifier model loaded",
		zap.String("model", model.Name),
		zap.Int("vocabulary", len(model.Tokens)))
	return model, nil
}

// classify combines the most significant token probabilities with
// Robinson's geometric mean and reports how many tokens contributed
func (m *Model) classify(tokens []string) (float64, int) {
	var probs []float64
	for _, token := range tokens {
		stats, ok := m.Tokens[token]
		if !ok || (stats.Phish == 0 && stats.Ham == 0) {
			continue
		}
		phishProb := float64(stats.Phish+1) / float64(m.PhishTokens+2)
		hamProb := float64(stats.Ham+1) / float64(m.HamTokens+2)
		p := phishProb / (phishProb + hamProb)
		if math.Abs(p-0.5) > significance {
			probs = append(probs, p)
		}
	}

	if len(probs) == 0 {
		return 0.5, 0
	}

	sort.Float64s(probs)
	if len(probs) > maxProbs {
		extreme := append([]float64(nil), probs[:maxProbs/2]...)
		extreme = append(extreme, probs[len(probs)-maxProbs/2:]...)
		probs = extreme
	}

	logPhish, logHam := 0.0, 0.0
	for _, p := range probs {
		logPhish += math.Log(p)
		logHam += math.Log(1 - p)
	}
	n := float64(len(probs))
	phishGeom := math.Exp(logPhish / n)
	hamGeom := math.Exp(logHam / n)

	return phishGeom / (phishGeom + hamGeom), len(probs)
}

// tokenize lowercases text and returns its distinct word tokens
func tokenize(text string) []string {
	words := nonWord.Split(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < minTokenLength || len(w) > maxTokenLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
		if len(tokens) >= maxTokens {
			break
		}
	}
	return tokens
}
