package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parley-agent/parley/examples"
)

// runInit initializes a Parley working directory. It creates the data
// and corpus directories and writes the example config. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Parley workspace in %s\n", dir)

	for _, sub := range []string{"data", "corpus"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may hold API keys, so it gets restricted permissions.
	configPath := filepath.Join(dir, "parley.yaml")
	if err := writeIfMissing(w, configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit parley.yaml, then run: parley serve")
	fmt.Fprintln(w, "Drop .md or .txt documents into corpus/ and set retrieval.corpus_dir to enable retrieval.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never clobbers user customizations.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, os.ErrExist) {
		fmt.Fprintf(w, "  %s exists, skipping\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
