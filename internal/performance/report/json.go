package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wesleyorama2/matchload/internal/performance/engine"
)

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return errNilResult
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// GenerateJSON writes the result as indented JSON to outputPath.
func GenerateJSON(result *engine.TestResult, outputPath string) error {
	if result == nil {
		return errNilResult
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := writeFile(outputPath, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}
