package executor

import (
	"context"
	"fmt"
	"slices"
)

// NewExecutor creates an uninitialized executor of the given type.
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor for cfg.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}

// IsValidExecutorType reports whether executorType names an executor.
func IsValidExecutorType(executorType string) bool {
	return slices.Contains(GetSupportedExecutors(), Type(executorType))
}

// GetSupportedExecutors returns every executor type.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
	}
}

// CalculateMaxVUs returns the most VUs cfg may run at once.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeConstantVUs:
		return cfg.VUs
	case TypeRampingVUs:
		maxVUs := 0
		for _, stage := range cfg.Stages {
			maxVUs = max(maxVUs, stage.Target)
		}
		return maxVUs
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return max(cfg.MaxVUs, cfg.PreAllocatedVUs, 1)
	default:
		return cfg.VUs
	}
}
