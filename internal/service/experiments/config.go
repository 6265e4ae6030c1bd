package experiments

import (
	"errors"
	"time"

	"github.com/animus-labs/animus-evals/internal/platform/env"
)

type Config struct {
	// Concurrency bounds in-flight task and evaluator invocations.
	Concurrency      int
	TaskTimeout      time.Duration
	EvaluatorTimeout time.Duration
	// WriteTimeout bounds each persistence attempt.
	WriteTimeout time.Duration
	WriteRetries int
	// RateLimit caps task invocations per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

func DefaultConfig() Config {
	return Config{
		Concurrency:      8,
		TaskTimeout:      2 * time.Minute,
		EvaluatorTimeout: time.Minute,
		WriteTimeout:     5 * time.Second,
		WriteRetries:     3,
		RateBurst:        1,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	concurrency, err := env.Int("EXPERIMENTS_CONCURRENCY", def.Concurrency)
	if err != nil {
		return Config{}, err
	}
	taskTimeout, err := env.Duration("EXPERIMENTS_TASK_TIMEOUT", def.TaskTimeout)
	if err != nil {
		return Config{}, err
	}
	evaluatorTimeout, err := env.Duration("EXPERIMENTS_EVALUATOR_TIMEOUT", def.EvaluatorTimeout)
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := env.Duration("EXPERIMENTS_WRITE_TIMEOUT", def.WriteTimeout)
	if err != nil {
		return Config{}, err
	}
	writeRetries, err := env.Int("EXPERIMENTS_WRITE_RETRIES", def.WriteRetries)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := env.Float("EXPERIMENTS_RATE_LIMIT", def.RateLimit)
	if err != nil {
		return Config{}, err
	}
	rateBurst, err := env.Int("EXPERIMENTS_RATE_BURST", def.RateBurst)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Concurrency:      concurrency,
		TaskTimeout:      taskTimeout,
		EvaluatorTimeout: evaluatorTimeout,
		WriteTimeout:     writeTimeout,
		WriteRetries:     writeRetries,
		RateLimit:        rateLimit,
		RateBurst:        rateBurst,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("EXPERIMENTS_CONCURRENCY must be >= 1")
	}
	if c.TaskTimeout < 0 {
		return errors.New("EXPERIMENTS_TASK_TIMEOUT must be >= 0")
	}
	if c.EvaluatorTimeout < 0 {
		return errors.New("EXPERIMENTS_EVALUATOR_TIMEOUT must be >= 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("EXPERIMENTS_WRITE_TIMEOUT must be positive")
	}
	if c.WriteRetries < 0 {
		return errors.New("EXPERIMENTS_WRITE_RETRIES must be >= 0")
	}
	if c.RateLimit < 0 {
		return errors.New("EXPERIMENTS_RATE_LIMIT must be >= 0")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("EXPERIMENTS_RATE_BURST must be >= 1")
	}
	return nil
}
