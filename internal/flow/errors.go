package flow

import (
	"errors"
	"strings"
)

// ErrConfiguration is matched by every graph load failure.
var ErrConfiguration = errors.New("invalid flow configuration")

// ConfigurationError lists every problem found while loading a graph.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrConfiguration.Error()
	}
	return ErrConfiguration.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) add(problem string) {
	e.Problems = append(e.Problems, problem)
}

func (e *ConfigurationError) errOrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
