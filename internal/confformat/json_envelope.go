package confformat

import (
	"encoding/json"
	"fmt"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/confio"
)

// JSONEnvelope is the parsed result of a `{"<type>": ..., "version": [n, ...]}`
// document (spec.md §4.2's JSON contract). Version is reported as
// float64 throughout, matching the original library's numeric version
// convention recovered from original_source (e.g. "1.0" rather than a
// bare integer).
type JSONEnvelope struct {
	Type    string
	Version float64
	Payload json.RawMessage
}

// ParseJSONEnvelope reads l's remaining content as one JSON document and
// extracts the wantType member and its leading version element. A
// version array whose first element isn't a JSON number is a Parse
// error scoped to this file (decision recorded in SPEC_FULL.md §6.3):
// it never propagates to sibling segments or other modules.
func ParseJSONEnvelope(l *confio.Loader, wantType string) (*JSONEnvelope, error) {
	raw, err := l.ReadWholeFile()
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("decoding JSON document: %w", err))
	}

	payload, ok := doc[wantType]
	if !ok {
		return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("missing top-level member %q", wantType))
	}

	versionRaw, ok := doc["version"]
	if !ok {
		return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("missing top-level member \"version\""))
	}

	var versionArr []json.RawMessage
	var version float64
	if err := json.Unmarshal(versionRaw, &versionArr); err == nil {
		if len(versionArr) == 0 {
			return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("empty \"version\" array"))
		}
		if err := json.Unmarshal(versionArr[0], &version); err != nil {
			return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("\"version\" array's first element is not numeric: %w", err))
		}
	} else if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("\"version\" is neither a number nor an array: %w", err))
	}

	return &JSONEnvelope{Type: wantType, Version: version, Payload: payload}, nil
}
