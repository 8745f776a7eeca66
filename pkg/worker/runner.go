package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

// RecipeStore resolves recipes for claimed triggers.
type RecipeStore interface {
	GetRecipe(ctx context.Context, name string) (*model.Recipe, error)
}

// RecipeRunner executes claimed triggers by running the recipe they
// name. It satisfies the trigger executor's handler contract.
type RecipeRunner struct {
	store RecipeStore
	log   *telemetry.Logger
}

// NewRecipeRunner creates a runner over the given recipe store.
func NewRecipeRunner(store RecipeStore, log *telemetry.Logger) *RecipeRunner {
	return &RecipeRunner{
		store: store,
		log:   log.NewComponentLogger("recipe-runner"),
	}
}

// Run resolves and executes the recipe named by the trigger. Triggers
// whose name matches no recipe fail; the trigger framework records the
// diagnostic.
func (r *RecipeRunner) Run(ctx context.Context, trigger *model.Trigger) (map[string]any, error) {
	recipe, err := r.store.GetRecipe(ctx, trigger.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipe for trigger: %w", err)
	}

	switch recipe.Type {
	case "shell":
		return r.runShell(ctx, recipe, trigger)
	case "noop":
		return map[string]any{"arguments": trigger.Arguments}, nil
	default:
		return nil, fmt.Errorf("unsupported recipe type: %s", recipe.Type)
	}
}

// runShell runs the recipe content through the shell. Params and
// trigger arguments are passed as environment variables prefixed with
// RECIPE_ and TRIGGER_.
func (r *RecipeRunner) runShell(ctx context.Context, recipe *model.Recipe, trigger *model.Trigger) (map[string]any, error) {
	if recipe.Content == "" {
		return nil, fmt.Errorf("recipe %s has no content", recipe.Name)
	}

	shell := "/bin/sh"
	if s, ok := recipe.Options["shell"].(string); ok && s != "" {
		shell = s
	}

	cmd := exec.CommandContext(ctx, shell, "-c", recipe.Content)
	cmd.Env = append(os.Environ(), envPairs("RECIPE_", recipe.Params)...)
	cmd.Env = append(cmd.Env, envPairs("TRIGGER_", trigger.Arguments)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.WithField("recipe", recipe.Name).WithField("trigger", trigger.ID).
		Debug("running recipe")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Seconds()

	result := map[string]any{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"duration": duration,
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result["exit_code"] = exitErr.ExitCode()
		}
		return nil, fmt.Errorf("recipe %s failed: %w", recipe.Name, err)
	}
	result["exit_code"] = 0
	return result, nil
}

// envPairs flattens a parameter map into KEY=value pairs. Non-string
// values are JSON-encoded.
func envPairs(prefix string, params map[string]any) []string {
	pairs := make([]string, 0, len(params))
	for key, value := range params {
		str, ok := value.(string)
		if !ok {
			encoded, err := json.Marshal(value)
			if err != nil {
				continue
			}
			str = string(encoded)
		}
		pairs = append(pairs, fmt.Sprintf("%s%s=%s", prefix, upperSnake(key), str))
	}
	return pairs
}

// upperSnake maps a parameter name onto an environment-safe identifier.
func upperSnake(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
