package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// collection stores one JSON document per id under dir.
type collection[T any] struct {
	dir string
}

func newCollection[T any](root, name string) collection[T] {
	return collection[T]{dir: filepath.Join(root, name)}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("ID contains invalid characters")
	}

	return nil
}

// read returns os.ErrNotExist (wrapped) when the document is missing.
func (c collection[T]) read(id string) (*T, error) {
	err := validateID(id)
	if err != nil {
		return nil, fmt.Errorf("invalid ID %q: %w: %w", id, err, os.ErrNotExist)
	}

	data, err := os.ReadFile(filepath.Join(c.dir, id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		return nil, err
	}

	var value T

	err = json.Unmarshal(data, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return &value, nil
}

// write replaces the document through a temporary file and a rename.
func (c collection[T]) write(id string, value *T) error {
	err := validateID(id)
	if err != nil {
		return fmt.Errorf("invalid ID %q: %w", id, err)
	}

	err = os.MkdirAll(c.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	path := filepath.Join(c.dir, id+".json")
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return os.Rename(tmp, path)
}

func (c collection[T]) remove(id string) error {
	err := validateID(id)
	if err != nil {
		return fmt.Errorf("invalid ID %q: %w", id, err)
	}

	err = os.Remove(filepath.Join(c.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return nil
}

// all loads every document; a missing directory is an empty collection.
func (c collection[T]) all() ([]*T, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", c.dir, err)
	}

	values := make([]*T, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		value, err := c.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, nil
}
