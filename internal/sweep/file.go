package sweep

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
)

// Spec is one run of a sweep.
type Spec struct {
	Name   string
	Config domain.StrategyConfig
	Raw    string // merged YAML of the run, stored verbatim with it
}

// File is a decoded sweep file.
type File struct {
	Parallelism int
	Specs       []Spec
}

// fileDoc is the on-disk layout. base holds parameters shared by every run;
// each entry of runs overrides them.
type fileDoc struct {
	Parallelism int         `yaml:"parallelism"`
	Base        yaml.Node   `yaml:"base"`
	Runs        []yaml.Node `yaml:"runs"`
}

type runDoc struct {
	Name                  string `yaml:"name"`
	domain.StrategyConfig `yaml:",inline"`
}

// LoadFile reads and decodes a sweep file.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a user-provided sweep file
	if err != nil {
		return nil, fmt.Errorf("reading sweep file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a sweep document. Unknown keys are rejected, and every run is
// validated so that no run starts when any of them is misconfigured.
func Decode(r io.Reader) (*File, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.NewConfigError("sweep", "", fmt.Sprintf("parsing sweep file: %v", err))
	}
	if doc.Parallelism < 0 {
		return nil, apperr.NewConfigError("parallelism", doc.Parallelism, "must not be negative")
	}
	if len(doc.Runs) == 0 {
		return nil, apperr.NewConfigError("runs", 0, "sweep file lists no runs")
	}

	out := &File{Parallelism: doc.Parallelism}
	seen := make(map[string]bool)
	for i := range doc.Runs {
		spec, err := decodeRun(&doc.Base, &doc.Runs[i], i)
		if err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, apperr.NewConfigError(fmt.Sprintf("runs[%d].name", i), spec.Name, "duplicate run name")
		}
		seen[spec.Name] = true
		out.Specs = append(out.Specs, spec)
	}
	return out, nil
}

func decodeRun(base, run *yaml.Node, i int) (Spec, error) {
	field := fmt.Sprintf("runs[%d]", i)

	merged, err := mergeMappings(base, run)
	if err != nil {
		return Spec{}, apperr.NewConfigError(field, "", err.Error())
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return Spec{}, fmt.Errorf("encode %s: %w", field, err)
	}

	// Decode over the defaults so that an explicit zero stays visible to Validate.
	rd := runDoc{StrategyConfig: domain.DefaultStrategyConfig("")}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rd); err != nil {
		return Spec{}, apperr.NewConfigError(field, "", err.Error())
	}

	cfg := rd.StrategyConfig
	variant, staggered, err := domain.ParseVariant(string(cfg.Variant))
	if err != nil {
		return Spec{}, err
	}
	cfg.Variant = variant
	cfg.Staggered = cfg.Staggered || staggered
	if err := cfg.Validate(); err != nil {
		return Spec{}, fmt.Errorf("%s: %w", field, err)
	}
	cfg = cfg.WithDefaults()

	name := rd.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", cfg.VariantCode(), i+1)
	}
	return Spec{Name: name, Config: cfg, Raw: strings.TrimSpace(string(raw))}, nil
}

// mergeMappings returns base with the keys of over replacing or extending it.
// Either node may be absent.
func mergeMappings(base, over *yaml.Node) (*yaml.Node, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	index := make(map[string]int)

	for _, n := range []*yaml.Node{base, over} {
		if n == nil || n.Kind == 0 {
			continue
		}
		if n.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
		}
		for j := 0; j+1 < len(n.Content); j += 2 {
			key, val := n.Content[j], n.Content[j+1]
			if at, ok := index[key.Value]; ok {
				out.Content[at+1] = val
				continue
			}
			index[key.Value] = len(out.Content)
			out.Content = append(out.Content, key, val)
		}
	}
	return out, nil
}
