package config

import "fmt"

// BatchConfig bounds the Batch Task Manager's concurrency and in-memory
// aggregation so a large symbol x parameter-set grid cannot exhaust memory
// or starve the host.
type BatchConfig struct {
	MaxTasks         int `json:"max_tasks"`
	TTLSeconds       int `json:"ttl_seconds"`
	MaxInFlight      int `json:"max_in_flight"`
	MaxReturnSamples int `json:"max_return_samples"`
	MaxComboExamples int `json:"max_combo_examples"`
	ComboTopN        int `json:"combo_top_n"`
}

// DefaultBatchConfig returns the reference bounds used in production runs.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxTasks:         200,
		TTLSeconds:       3600,
		MaxInFlight:      8,
		MaxReturnSamples: 5000,
		MaxComboExamples: 2000,
		ComboTopN:        20,
	}
}

func (c BatchConfig) Validate() error {
	if c.MaxTasks <= 0 {
		return fmt.Errorf("config: max_tasks must be > 0, got %d", c.MaxTasks)
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("config: ttl_seconds must be > 0, got %d", c.TTLSeconds)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("config: max_in_flight must be > 0, got %d", c.MaxInFlight)
	}
	if c.MaxReturnSamples <= 0 {
		return fmt.Errorf("config: max_return_samples must be > 0, got %d", c.MaxReturnSamples)
	}
	if c.MaxComboExamples <= 0 {
		return fmt.Errorf("config: max_combo_examples must be > 0, got %d", c.MaxComboExamples)
	}
	if c.ComboTopN <= 0 {
		return fmt.Errorf("config: combo_top_n must be > 0, got %d", c.ComboTopN)
	}
	return nil
}
