package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/canonical"
)

// maxInputBytes caps what evaluate and snapshot read from a file or stdin.
const maxInputBytes = 4 << 20

// readDocument reads a JSON or YAML document from path ("-" or empty for
// stdin). format is "json", "yaml" or "auto" (by extension, JSON for stdin).
func readDocument(path, format string, stdin io.Reader) (any, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(data) > maxInputBytes {
		return nil, fmt.Errorf("input exceeds %d bytes", maxInputBytes)
	}

	if format == "auto" || format == "" {
		format = "json"
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = "yaml"
		}
	}

	switch format {
	case "json":
		v, err := canonical.DecodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse JSON input: %w", err)
		}
		return v, nil
	case "yaml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse YAML input: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown input format %q (json|yaml|auto)", format)
	}
}
