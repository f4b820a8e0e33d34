package source

import (
	"context"
	"fmt"
	"os"

	"github.com/rafaeljc/gatekeeper/internal/ruleset"
)

// File reads a YAML or JSON ruleset document from the local filesystem.
type File struct {
	path string
}

var _ Source = (*File)(nil)

// NewFile returns a source for the document at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name implements Source.
func (f *File) Name() string { return "file" }

// Path returns the file location.
func (f *File) Path() string { return f.path }

// FetchRawConfig implements Source.
func (f *File) FetchRawConfig(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	raw, err := ruleset.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", f.path, err)
	}
	return raw, nil
}
