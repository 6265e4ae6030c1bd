package datasets

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/animus-labs/animus-evals/internal/domain"
)

const maxJSONLLineBytes = 16 << 20

// KeyMapping splits a flat record into input, output and metadata objects. Keys not
// named by any list are dropped.
type KeyMapping struct {
	InputKeys    []string
	OutputKeys   []string
	MetadataKeys []string
}

func (m KeyMapping) empty() bool {
	return len(m.InputKeys) == 0 && len(m.OutputKeys) == 0 && len(m.MetadataKeys) == 0
}

func (m KeyMapping) validate() error {
	seen := map[string]string{}
	check := func(group string, keys []string) error {
		for _, key := range keys {
			key = strings.TrimSpace(key)
			if key == "" {
				return domain.Invalid("%s keys must not be empty", group)
			}
			if prev, ok := seen[key]; ok {
				return domain.Invalid("key %q is mapped to both %s and %s", key, prev, group)
			}
			seen[key] = group
		}
		return nil
	}
	if err := check("input", m.InputKeys); err != nil {
		return err
	}
	if err := check("output", m.OutputKeys); err != nil {
		return err
	}
	return check("metadata", m.MetadataKeys)
}

func (m KeyMapping) split(record map[string]any) Change {
	pick := func(keys []string) map[string]any {
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			key = strings.TrimSpace(key)
			if v, ok := record[key]; ok {
				out[key] = v
			}
		}
		return out
	}
	return Change{
		Kind:     domain.RevisionCreate,
		Input:    domain.Object(pick(m.InputKeys)),
		Output:   domain.Object(pick(m.OutputKeys)),
		Metadata: domain.Metadata(pick(m.MetadataKeys)),
	}
}

// ParseJSONL reads one example per line. Without a mapping each line must carry
// "input" and optionally "output" and "metadata" objects.
func ParseJSONL(r io.Reader, mapping KeyMapping) ([]Change, error) {
	if err := mapping.validate(); err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineBytes)

	changes := make([]Change, 0)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, domain.Invalid("line %d: invalid json object: %v", line, err)
		}
		if !mapping.empty() {
			changes = append(changes, mapping.split(record))
			continue
		}
		change, err := changeFromRecord(record)
		if err != nil {
			return nil, domain.Invalid("line %d: %v", line, err)
		}
		changes = append(changes, change)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	if len(changes) == 0 {
		return nil, domain.Invalid("no examples found")
	}
	return changes, nil
}

func changeFromRecord(record map[string]any) (Change, error) {
	input, ok := record["input"].(map[string]any)
	if !ok {
		return Change{}, errors.New(`"input" must be a json object`)
	}
	change := Change{Kind: domain.RevisionCreate, Input: domain.Object(input), Output: domain.Object{}, Metadata: domain.Metadata{}}
	if raw, ok := record["output"]; ok && raw != nil {
		output, ok := raw.(map[string]any)
		if !ok {
			return Change{}, errors.New(`"output" must be a json object`)
		}
		change.Output = domain.Object(output)
	}
	if raw, ok := record["metadata"]; ok && raw != nil {
		meta, ok := raw.(map[string]any)
		if !ok {
			return Change{}, errors.New(`"metadata" must be a json object`)
		}
		change.Metadata = domain.Metadata(meta)
	}
	return change, nil
}

// ParseCSV reads a header row followed by one example per row. Every mapped key must
// be a column. Without a mapping all columns become input.
func ParseCSV(r io.Reader, mapping KeyMapping) ([]Change, error) {
	if err := mapping.validate(); err != nil {
		return nil, err
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.Invalid("csv header is required")
		}
		return nil, domain.Invalid("read csv header: %v", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if mapping.empty() {
		mapping.InputKeys = header
	}
	columns := make(map[string]struct{}, len(header))
	for _, col := range header {
		columns[col] = struct{}{}
	}
	for _, keys := range [][]string{mapping.InputKeys, mapping.OutputKeys, mapping.MetadataKeys} {
		for _, key := range keys {
			if _, ok := columns[strings.TrimSpace(key)]; !ok {
				return nil, domain.Invalid("csv column %q not found", key)
			}
		}
	}

	changes := make([]Change, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.Invalid("read csv: %v", err)
		}
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		changes = append(changes, mapping.split(record))
	}
	if len(changes) == 0 {
		return nil, domain.Invalid("no examples found")
	}
	return changes, nil
}
