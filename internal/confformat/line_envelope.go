package confformat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/confio"
)

// metaSectionName is the reserved section name spec.md §4.2 gives the
// optional header block that precedes any payload sections.
const metaSectionName = "meta"

// LineEnvelope is the parsed result of reading a line-oriented config
// file's header, declared count, and section blocks (spec.md §4.2).
type LineEnvelope struct {
	Type    string
	Version string
	Count   int // declared by "count N"; 0 if no count line was present
	// Name is the "name" key read out of an optional "[meta:m]" section.
	// Every other key in that section is recognized-but-ignored per
	// spec.md §4.2 ("of which only name is recognized").
	Name string
	// Sections maps a section name to the list of lines that followed
	// it, up to the next section header or EOF. A name that appears
	// more than once accumulates lines from every occurrence, in file
	// order.
	Sections map[string][]string
	// Body holds every non-header, non-section, non-count line that
	// appeared before the first section header, in file order.
	Body []string
}

// ParseLineEnvelope reads l to EOF and builds a LineEnvelope. wantType,
// when non-empty, is checked against the header's declared type and a
// mismatch is reported as a Parse error (spec.md §7: type/version checks
// are a file-scoped parse failure, never silently accepted).
func ParseLineEnvelope(l *confio.Loader, wantType string) (*LineEnvelope, error) {
	env := &LineEnvelope{Sections: make(map[string][]string)}

	header, err := l.ReadLine()
	if err != nil {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), fmt.Errorf("reading header: %w", err))
	}
	fields := Fields(header)
	if len(fields) < 2 {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), fmt.Errorf("malformed header %q, want \"<type> <version>\"", header))
	}
	env.Type, env.Version = fields[0], fields[1]
	if wantType != "" && env.Type != wantType {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), fmt.Errorf("type %q, want %q", env.Type, wantType))
	}

	var currentSection string
	haveSection := false
	sectionWant := -1 // -1 means the header carried no ":k" count
	sectionGot := 0

	inMeta := false
	metaWant := 0
	metaGot := 0

	closeSection := func() error {
		if haveSection && sectionWant >= 0 && sectionGot != sectionWant {
			return fmt.Errorf("section %q declares %d lines, got %d", currentSection, sectionWant, sectionGot)
		}
		if inMeta && metaGot != metaWant {
			return fmt.Errorf("section %q declares %d entries, got %d", metaSectionName, metaWant, metaGot)
		}
		return nil
	}

	for {
		line, err := l.ReadLine()
		if err != nil {
			break
		}

		if inMeta {
			fs := Fields(line)
			if len(fs) >= 1 {
				if fs[0] == "name" && len(fs) >= 2 {
					env.Name = fs[1]
				} else if fs[0] != "name" {
					log.Warn().Str("path", l.Path()).Uint("line", l.Line()).Str("key", fs[0]).Msg("unrecognized meta key, skipping")
				}
			}
			metaGot++
			if metaGot >= metaWant {
				inMeta = false
			}
			continue
		}

		if name, count, hasCount, ok := SplitSection(line); ok {
			if err := closeSection(); err != nil {
				return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), err)
			}
			if name == metaSectionName {
				inMeta = true
				metaWant = count
				metaGot = 0
				haveSection = false
				if metaWant == 0 {
					inMeta = false
				}
				continue
			}
			currentSection = name
			sectionWant = -1
			if hasCount {
				sectionWant = count
			}
			sectionGot = 0
			haveSection = true
			if _, exists := env.Sections[currentSection]; !exists {
				env.Sections[currentSection] = nil
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "count ") || trimmed == "count" {
			fs := Fields(trimmed)
			if len(fs) == 2 {
				n, perr := strconv.Atoi(fs[1])
				if perr != nil {
					return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), fmt.Errorf("malformed count line %q", line))
				}
				env.Count = n
				continue
			}
		}

		if haveSection {
			env.Sections[currentSection] = append(env.Sections[currentSection], line)
			sectionGot++
		} else {
			env.Body = append(env.Body, line)
		}
	}

	if !l.Eof() {
		return nil, confcore.NewLineError(confcore.ErrParse, l.Path(), l.Line(), fmt.Errorf("reading body: %w", l.Err()))
	}

	if err := closeSection(); err != nil {
		return nil, confcore.NewError(confcore.ErrParse, l.Path(), err)
	}

	if env.Count > 0 {
		total := 0
		for _, lines := range env.Sections {
			total += len(lines)
		}
		total += len(env.Body)
		if total != env.Count {
			return nil, confcore.NewError(confcore.ErrParse, l.Path(), fmt.Errorf("declared count %d does not match %d parsed entries", env.Count, total))
		}
	}

	return env, nil
}
