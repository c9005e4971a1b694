package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// ResolvePathUnderBase resolves path relative to baseDir and returns an
// absolute path guaranteed to stay under baseDir. Prevents path traversal
// when the path is caller-controlled.
func ResolvePathUnderBase(baseDir, path string) (string, error) {
	dirAbs, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("access-context base directory: %w", err)
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(dirAbs, path)
	}
	pathAbs, err := filepath.Abs(filepath.Clean(full))
	if err != nil {
		return "", fmt.Errorf("access-context path: %w", err)
	}
	rel, err := filepath.Rel(dirAbs, pathAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("access-context path outside base directory")
	}
	return pathAbs, nil
}

// LoadAccessContext loads an access context from a YAML file. In production
// the authorization service supplies contexts over the API; file-based
// contexts serve the CLI and tests.
func LoadAccessContext(ctx context.Context, baseDir, path string) (*AccessContext, error) {
	_, span := tracer.Start(ctx, "policy.access_context.load")
	defer span.End()
	span.SetAttributes(attribute.String("access_context.path", path))

	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("access-context base directory: %w", err)
		}
	}
	safePath, err := ResolvePathUnderBase(baseDir, path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("reading access context: %w", err)
	}
	var access AccessContext
	if err := yaml.Unmarshal(raw, &access); err != nil {
		return nil, fmt.Errorf("parsing access context: %w", err)
	}
	if access.OrgID == "" {
		return nil, fmt.Errorf("access context missing org_id")
	}
	if access.UserID == "" {
		return nil, fmt.Errorf("access context missing user_id")
	}
	return &access, nil
}
