// Package tracereplay loads recorded dispatch offsets for trace-shaped
// stages. Traces are newline-delimited offsets in seconds or a JSON array,
// optionally gzip-compressed (production traces run to millions of lines).
package tracereplay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Load reads dispatch offsets from path. Offsets are returned sorted
// ascending and rebased so the first dispatch lands at zero.
func Load(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	name := path
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open gzip trace: %w", err)
		}
		defer gz.Close()
		r = gz
		name = strings.TrimSuffix(path, ".gz")
	}

	var offsets []float64
	if strings.HasSuffix(name, ".json") {
		offsets, err = parseJSON(r)
	} else {
		offsets, err = parseLines(r)
	}
	if err != nil {
		return nil, fmt.Errorf("parse trace %s: %w", path, err)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("trace %s contains no offsets", path)
	}

	sort.Float64s(offsets)
	base := offsets[0]
	for i := range offsets {
		offsets[i] -= base
	}
	return offsets, nil
}

func parseJSON(r io.Reader) ([]float64, error) {
	var offsets []float64
	if err := json.NewDecoder(r).Decode(&offsets); err != nil {
		return nil, err
	}
	return offsets, nil
}

func parseLines(r io.Reader) ([]float64, error) {
	var offsets []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("line %d: negative offset", line)
		}
		offsets = append(offsets, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return offsets, nil
}
