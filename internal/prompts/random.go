package prompts

import (
	"context"
	"math/rand"
	"strings"
	"sync"
)

// Sampled from common English so synthetic prompts tokenize close to one
// token per word on typical BPE vocabularies.
var wordPool = []string{
	"system", "model", "token", "stream", "latency", "request", "batch",
	"decode", "prefill", "cache", "tensor", "weight", "layer", "prompt",
	"context", "window", "sample", "logit", "vector", "attention", "head",
	"block", "memory", "compute", "kernel", "shard", "replica", "queue",
	"schedule", "worker", "metric", "report", "throughput", "percentile",
	"summary", "explain", "describe", "compare", "analyze", "outline",
}

// RandomSource generates synthetic prompts of a fixed target word count.
// It is infinite and deterministic for a fixed seed.
type RandomSource struct {
	mu           sync.Mutex
	rng          *rand.Rand
	words        int
	targetOutput int
}

// NewRandom builds a random prompt source targeting roughly words input
// tokens and targetOutput generated tokens per request.
func NewRandom(seed int64, words, targetOutput int) *RandomSource {
	if words < 1 {
		words = 64
	}
	return &RandomSource{
		rng:          rand.New(rand.NewSource(seed)),
		words:        words,
		targetOutput: targetOutput,
	}
}

func (s *RandomSource) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	for i := 0; i < s.words; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(wordPool[s.rng.Intn(len(wordPool))])
	}
	return Payload{
		Text:         sb.String(),
		TargetInput:  s.words,
		TargetOutput: s.targetOutput,
	}, nil
}

func (s *RandomSource) Close() error { return nil }
