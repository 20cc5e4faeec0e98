package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ahrav/go-ensemble/internal/application"
	"github.com/ahrav/go-ensemble/internal/domain"
)

// parseValue reads a payload from the command line: a number, a
// comma-separated list of numbers (a buffer), or otherwise a label.
func parseValue(s string) domain.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Empty()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return domain.Number(f)
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		xs := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return domain.Label(s)
			}
			xs = append(xs, f)
		}
		return domain.Buffer(xs)
	}
	return domain.Label(s)
}

// parseAttributes turns repeated key=value flags into a map.
func parseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// buildInput assembles the request handed to every worker.
func buildInput(payload domain.Value, prompt string, attrs map[string]string) domain.Input {
	in := domain.NewInput(payload)
	if prompt != "" {
		in = domain.With(in, domain.KeyPrompt, prompt)
	}
	if len(attrs) > 0 {
		in = domain.With(in, domain.KeyAttributes, attrs)
	}
	return in
}

// exampleRecord is one line of a JSON Lines training file.
type exampleRecord struct {
	Input      any               `json:"input"`
	Actual     any               `json:"actual"`
	Prompt     string            `json:"prompt,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// readExamples decodes a JSON Lines training set. Blank lines and lines
// starting with # are skipped.
func readExamples(r io.Reader) ([]application.TrainingExample, error) {
	var out []application.TrainingExample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec exampleRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		payload, err := domain.ValueFrom(rec.Input)
		if err != nil {
			return nil, fmt.Errorf("line %d: input: %w", line, err)
		}
		actual, err := domain.ValueFrom(rec.Actual)
		if err != nil {
			return nil, fmt.Errorf("line %d: actual: %w", line, err)
		}
		if actual.IsEmpty() {
			return nil, fmt.Errorf("line %d: actual is required", line)
		}
		out = append(out, application.TrainingExample{
			Input:  buildInput(payload, rec.Prompt, rec.Attributes),
			Actual: actual,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
