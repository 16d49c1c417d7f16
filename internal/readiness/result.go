// Package readiness probes the host for what GPU inference needs (driver,
// visible CUDA devices, quantized kernels) and folds the probes into a report.
//
// Probes never fail: every outcome, including panics in injected helpers,
// becomes a CheckResult.
package readiness

import (
	"encoding/json"
	"sort"
)

// Check names as they appear in reports.
const (
	CheckDriver       = "nvidia_smi"
	CheckAccelerator  = "cuda"
	CheckQuantization = "quantization"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Report aggregates probe results. AllOK is the logical AND of every check.
type Report struct {
	Checks map[string]CheckResult
	AllOK  bool
}

// NewReport builds a report and derives AllOK.
func NewReport(checks map[string]CheckResult) Report {
	all := true
	for _, c := range checks {
		if !c.OK {
			all = false
		}
	}
	return Report{Checks: checks, AllOK: all}
}

// Names returns check names in a stable order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for n := range r.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders {"<check>": {...}, "all_ok": bool}.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Checks)+1)
	for n, c := range r.Checks {
		out[n] = c
	}
	out["all_ok"] = r.AllOK
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Report) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Checks = make(map[string]CheckResult, len(raw))
	for k, v := range raw {
		if k == "all_ok" {
			if err := json.Unmarshal(v, &r.AllOK); err != nil {
				return err
			}
			continue
		}
		var c CheckResult
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		r.Checks[k] = c
	}
	return nil
}
