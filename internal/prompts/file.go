package prompts

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// FileSource serves payloads loaded from a dataset file in round-robin order.
// It is safe for concurrent access. With Cycle enabled the source restarts
// from the beginning instead of reporting exhaustion.
type FileSource struct {
	payloads []Payload
	index    int
	cycle    bool
	mu       sync.Mutex
}

// NewFile loads a dataset by extension: .jsonl (one JSON object per line)
// or .csv (header row with a prompt column).
func NewFile(path string, cycle bool) (*FileSource, error) {
	var (
		payloads []Payload
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		payloads, err = loadJSONL(path)
	case ".csv":
		payloads, err = loadCSV(path)
	default:
		return nil, fmt.Errorf("unsupported dataset extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("dataset %s contains no prompts", path)
	}
	return &FileSource{payloads: payloads, cycle: cycle}, nil
}

// Next returns the next payload, cycling or reporting ErrExhausted at the end.
func (s *FileSource) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.payloads) {
		if !s.cycle {
			return Payload{}, ErrExhausted
		}
		s.index = 0
	}
	p := s.payloads[s.index]
	s.index++
	return p, nil
}

func (s *FileSource) Close() error { return nil }

// Len returns the number of distinct payloads in the dataset.
func (s *FileSource) Len() int { return len(s.payloads) }

func loadJSONL(path string) ([]Payload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	var payloads []Payload
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		prompt := gjson.Get(text, "prompt")
		if !prompt.Exists() {
			return nil, fmt.Errorf("line %d: missing prompt field", line)
		}
		payloads = append(payloads, Payload{
			Text:         prompt.String(),
			TargetInput:  int(gjson.Get(text, "input_tokens").Int()),
			TargetOutput: int(gjson.Get(text, "output_tokens").Int()),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return payloads, nil
}

func loadCSV(path string) ([]Payload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("dataset must have a header row and at least one data row")
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	promptCol, ok := col["prompt"]
	if !ok {
		return nil, fmt.Errorf("dataset header has no prompt column")
	}

	payloads := make([]Payload, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := Payload{Text: row[promptCol]}
		if i, ok := col["input_tokens"]; ok && i < len(row) {
			p.TargetInput, _ = strconv.Atoi(row[i])
		}
		if i, ok := col["output_tokens"]; ok && i < len(row) {
			p.TargetOutput, _ = strconv.Atoi(row[i])
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}
