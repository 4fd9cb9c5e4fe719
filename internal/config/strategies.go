package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/web3guy0/tradeguard/execution"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

// StrategyFile is one YAML strategy document
type StrategyFile struct {
	Name       string           `yaml:"name"`
	Symbols    []string         `yaml:"symbols"`
	Timeframes []string         `yaml:"timeframes"`
	OrderKind  types.OrderKind  `yaml:"order_kind"`
	Risk       risk.RiskConfig  `yaml:"risk"`
	Execution  execution.Config `yaml:"execution"`

	Path string `yaml:"-"`
}

// ParseStrategy decodes one document. The name defaults to the file's base name.
func ParseStrategy(path string, data []byte) (StrategyFile, error) {
	sf := StrategyFile{Execution: execution.DefaultConfig(), Path: path}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return sf, &types.ValidationError{Strategy: baseName(path), Field: "yaml", Reason: err.Error()}
	}

	if sf.Name == "" {
		sf.Name = baseName(path)
	}
	for i, s := range sf.Symbols {
		sf.Symbols[i] = strings.ToUpper(s)
	}
	switch sf.OrderKind {
	case "", types.Market, types.Limit:
	default:
		return sf, &types.ValidationError{Strategy: sf.Name, Field: "order_kind", Reason: fmt.Sprintf("unknown kind %q", sf.OrderKind)}
	}
	if err := sf.Execution.Validate(); err != nil {
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			ve.Strategy = sf.Name
		}
		return sf, err
	}
	if err := sf.Risk.Validate(sf.Name); err != nil {
		return sf, err
	}
	return sf, nil
}

// LoadStrategies reads every *.yaml / *.yml in dir. Invalid files are logged and
// returned in errs; valid ones are still loaded.
func LoadStrategies(dir string) (files []StrategyFile, errs []error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("config: strategies dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seen := make(map[string]string)
	for _, n := range names {
		path := filepath.Join(dir, n)
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", path, rerr))
			continue
		}
		sf, perr := ParseStrategy(path, data)
		if perr == nil {
			if prev, dup := seen[sf.Name]; dup {
				perr = &types.ValidationError{Strategy: sf.Name, Field: "name", Reason: "also defined in " + prev}
			}
		}
		if perr != nil {
			log.Error().Err(perr).Str("file", path).Msg("❌ Strategy file rejected")
			errs = append(errs, perr)
			continue
		}
		seen[sf.Name] = path
		files = append(files, sf)
	}

	log.Info().Int("loaded", len(files)).Int("rejected", len(errs)).Str("dir", dir).Msg("📋 Strategy files loaded")
	return files, errs, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
