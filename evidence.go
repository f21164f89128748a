package botguard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EvidenceExporter serializes the registry into a self-describing JSON
// package. Export is all-or-nothing: the file is written to a temp path and
// renamed into place, so a reader never observes a partial package.
type EvidenceExporter struct {
	registry *ActorRegistry
}

func NewEvidenceExporter(registry *ActorRegistry) *EvidenceExporter {
	return &EvidenceExporter{registry: registry}
}

// Package builds the evidence package from a consistent registry snapshot.
func (e *EvidenceExporter) Package() *EvidencePackage {
	actors := e.registry.Snapshot()
	pkg := &EvidencePackage{
		GeneratedAt: time.Now().UTC(),
		ActorCount:  len(actors),
		Actors:      actors,
	}
	for _, actor := range actors {
		pkg.AttemptCount += len(actor.Attempts)
		if actor.Record.Neutralized {
			pkg.Neutralized++
		}
	}
	return pkg
}

// Export writes the package to path atomically.
func (e *EvidenceExporter) Export(path string) (*EvidencePackage, error) {
	pkg := e.Package()
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence package: %v", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write evidence package: %v", err)
	}
	return pkg, nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path. On error the temp file is removed and path is untouched.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
