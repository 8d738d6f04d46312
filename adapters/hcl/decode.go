// Package hcl loads quote policy, pricing catalogs and facility descriptors
// from HCL files.
//
// Numeric attributes may use unit variables: kw, mw, kwh, mwh, w and percent
// scale to the engine's base units (kW, kWh, ratio), so "max = 1 * mwh" and
// "default_rate = 20 * percent" read as written.
package hcl

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	qerrors "energy-quote/internal/errors"
)

// evalContext exposes unit variables and a few numeric helpers
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"w":       cty.NumberFloatVal(0.001),
			"kw":      cty.NumberIntVal(1),
			"mw":      cty.NumberIntVal(1000),
			"kwh":     cty.NumberIntVal(1),
			"mwh":     cty.NumberIntVal(1000),
			"percent": cty.NumberFloatVal(0.01),
		},
		Functions: map[string]function.Function{
			"min": stdlib.MinFunc,
			"max": stdlib.MaxFunc,
		},
	}
}

// decodeFile reads and decodes one file into target
func decodeFile(path string, target interface{}) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return qerrors.Config("failed to read file", err).WithContext("file", path)
	}
	return decode(path, src, target)
}

// decode parses src as HCL native syntax or, for .json names, HCL JSON
func decode(filename string, src []byte, target interface{}) error {
	err := hclsimple.Decode(filename, src, evalContext(), target)
	if err == nil {
		return nil
	}
	diags, ok := err.(hcl.Diagnostics)
	if !ok {
		return qerrors.Config("failed to decode "+filename, err)
	}
	return diagnosticsError(filename, diags)
}

// diagnosticsError keeps every error diagnostic, with its line, in one message
func diagnosticsError(filename string, diags hcl.Diagnostics) error {
	var msgs []string
	line := 0
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			continue
		}
		msg := diag.Summary
		if diag.Detail != "" {
			msg += ": " + diag.Detail
		}
		if diag.Subject != nil {
			if line == 0 {
				line = diag.Subject.Start.Line
			}
			msg = fmt.Sprintf("line %d: %s", diag.Subject.Start.Line, msg)
		}
		msgs = append(msgs, msg)
	}
	return qerrors.Config("invalid "+filename, fmt.Errorf("%s", strings.Join(msgs, "; "))).
		WithContext("file", filename).
		WithContext("line", line)
}
