package drugdata

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

// WriteJSON writes entries as compact JSON to path, replacing any existing file
func WriteJSON(path string, entries []entities.CompiledEntry) error {
	return writeAtomic(path, func(w io.Writer) error {
		return encodeEntries(w, entries)
	})
}

// WriteGzipJSON writes entries as gzip compressed compact JSON to path
func WriteGzipJSON(path string, entries []entities.CompiledEntry) error {
	return writeAtomic(path, func(w io.Writer) error {
		gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return err
		}
		if err := encodeEntries(gz, entries); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	})
}

// ReadCompiled loads a dataset written by WriteJSON or WriteGzipJSON. Files
// ending in .gz are decompressed.
func ReadCompiled(path string) ([]entities.CompiledEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var entries []entities.CompiledEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return entries, nil
}

func encodeEntries(w io.Writer, entries []entities.CompiledEntry) error {
	if entries == nil {
		entries = []entities.CompiledEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(entries)
}

// writeAtomic writes to a temp file next to path and renames it into place
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
