package riskmodel

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// RetrofittedSuffix marks the loss types of retrofitted vulnerability
// functions in risk function files.
const RetrofittedSuffix = "_retrofitted"

type functionsFile struct {
	Vulnerability map[string]map[string]*VulnerabilityFunction `yaml:"vulnerability"`
	Fragility     map[string]map[string]*FragilityFunctionSet  `yaml:"fragility"`
}

// LoadFunctions reads risk functions by taxonomy and loss type from YAML:
//
//	vulnerability:
//	  RC:
//	    structural: {id: RC-s, imt: PGA, imls: [0.1, 0.5], mean_loss_ratios: [0.05, 0.3]}
//	    structural_retrofitted: {...}
//	fragility:
//	  W1:
//	    structural: {id: W1-s, imt: PGA, format: continuous, functions: [...]}
//
// Vulnerability functions of loss types ending in _retrofitted are returned
// separately, keyed by the loss type without the suffix.
func LoadFunctions(r io.Reader) (map[string]map[string]RiskFunction, map[string]map[string]*VulnerabilityFunction, error) {
	var file functionsFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("failed to decode risk functions: %w", err)
	}

	functions := make(map[string]map[string]RiskFunction)
	retrofitted := make(map[string]map[string]*VulnerabilityFunction)
	add := func(taxonomy, lossType string, rf RiskFunction) error {
		if functions[taxonomy] == nil {
			functions[taxonomy] = make(map[string]RiskFunction)
		}
		if _, dup := functions[taxonomy][lossType]; dup {
			return fmt.Errorf("duplicate risk function for taxonomy %s, loss type %s", taxonomy, lossType)
		}
		functions[taxonomy][lossType] = rf
		return nil
	}

	for taxonomy, byLT := range file.Vulnerability {
		for lt, vf := range byLT {
			if vf == nil {
				return nil, nil, fmt.Errorf("empty vulnerability function for taxonomy %s, loss type %s", taxonomy, lt)
			}
			if base, ok := strings.CutSuffix(lt, RetrofittedSuffix); ok {
				if retrofitted[taxonomy] == nil {
					retrofitted[taxonomy] = make(map[string]*VulnerabilityFunction)
				}
				retrofitted[taxonomy][base] = vf
				continue
			}
			if err := add(taxonomy, lt, vf); err != nil {
				return nil, nil, err
			}
		}
	}
	for taxonomy, byLT := range file.Fragility {
		for lt, ffs := range byLT {
			if ffs == nil {
				return nil, nil, fmt.Errorf("empty fragility functions for taxonomy %s, loss type %s", taxonomy, lt)
			}
			if err := add(taxonomy, lt, ffs); err != nil {
				return nil, nil, err
			}
		}
	}
	return functions, retrofitted, nil
}
