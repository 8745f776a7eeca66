package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tempest-orch/tempest/pkg/store"
)

// withStore opens the control-plane database, runs fn, and closes the
// store. Migrations are expected to have been applied by `tempest init`.
func withStore(ctx context.Context, fn func(ctx context.Context, s *store.SQLiteStore) error) error {
	s, err := store.NewSQLiteStore(store.Config{Path: databasePath})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(ctx, s)
}

// printResult renders v as indented JSON when --json is set, otherwise
// hands it to the plain printer.
func printResult(v any, plain func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	plain()
	return nil
}

// parseKeyValues parses repeated key=value flags into an attribute map.
// Values that parse as JSON keep their type; everything else is a
// string.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid key=value pair: %q", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		out[key] = parsed
	}
	return out, nil
}

// parseJSONFlag parses a JSON object flag, tolerating an empty value.
func parseJSONFlag(raw, flag string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON for --%s: %w", flag, err)
	}
	return out, nil
}
