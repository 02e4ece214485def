package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/stagegraph/errors"
)

// Input limits.
const (
	maxConfigSize = 10 << 20
	maxPEMSize    = 1 << 20
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

// fileKind is a class of file a configuration refers to.
type fileKind struct {
	name       string
	extensions []string
	maxSize    int64
}

var (
	pipelineFile = fileKind{name: "config", extensions: []string{".json", ".yaml", ".yml"}, maxSize: maxConfigSize}
	pemFile      = fileKind{name: "PEM", extensions: []string{".pem", ".crt", ".cer", ".key"}, maxSize: maxPEMSize}
)

func badInput(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errors.ErrInvalidConfig)
}

// checkPath is lexical: relative paths must stay below the working directory,
// absolute paths must not contain "..", and the extension must fit kind.
func checkPath(path string, kind fileKind) error {
	switch {
	case path == "":
		return badInput("empty %s path", kind.name)
	case len(path) > maxPathLen:
		return badInput("%s path too long: %d > %d", kind.name, len(path), maxPathLen)
	case filepath.IsAbs(path):
		if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
			return badInput("%s path %s contains ..", kind.name, path)
		}
	case !filepath.IsLocal(path):
		return badInput("%s path %s leaves the working directory", kind.name, path)
	}

	if ext := strings.ToLower(filepath.Ext(path)); !slices.Contains(kind.extensions, ext) {
		return badInput("%s file %s must end in one of %s", kind.name, path, strings.Join(kind.extensions, ", "))
	}
	return nil
}

// checkFile runs checkPath and requires a regular file within kind's size limit.
func checkFile(path string, kind fileKind) error {
	if err := checkPath(path, kind); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind.name, err)
	}
	if !info.Mode().IsRegular() {
		return badInput("%s is not a regular file", path)
	}
	if info.Size() > kind.maxSize {
		return badInput("%s file %s too large: %d > %d bytes", kind.name, path, info.Size(), kind.maxSize)
	}
	return nil
}

// readPipelineFile reads one configuration layer.
func readPipelineFile(path string) ([]byte, error) {
	if err := checkFile(path, pipelineFile); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// writePipelineFile writes a configuration readable by its owner only.
func writePipelineFile(path string, data []byte) error {
	if err := checkPath(path, pipelineFile); err != nil {
		return err
	}
	if int64(len(data)) > pipelineFile.maxSize {
		return badInput("config too large: %d > %d bytes", len(data), pipelineFile.maxSize)
	}
	return os.WriteFile(path, data, 0600)
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return badInput("%s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return badInput("%s contains a NUL byte", key)
	}
	return nil
}

// checkJSONDepth walks the token stream and rejects documents nested deeper
// than maxJSONDepth before they are decoded into maps.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if depth != 0 {
				return badInput("JSON ends inside %d open values", depth)
			}
			return nil
		}
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxJSONDepth {
				return badInput("JSON nesting too deep: more than %d levels", maxJSONDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
