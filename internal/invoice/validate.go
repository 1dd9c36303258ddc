package invoice

import (
	"fmt"
	"log/slog"
	"math"
)

// VATTolerance is the absolute tolerance for the VAT arithmetic check. A
// hardcoded heuristic carried over from the audit rules; kept as a named
// constant rather than tightened.
const VATTolerance = 0.01

// CheckResult describes one validation observation.
type CheckResult struct {
	Passed    bool
	FieldPath string
	Expected  string
	Actual    string
	Message   string
}

// Validator runs non-blocking consistency checks over a recovered record.
// Failures are reported and logged, never enforced: the record is returned to
// the caller as-is either way.
type Validator struct {
	log *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{log: logger}
}

// Validate reports missing required fields and VAT arithmetic mismatches.
func (v *Validator) Validate(f Fields) []CheckResult {
	results := []CheckResult{
		presence("invoice_number", f.InvoiceNumber != nil),
		presence("date", f.Date != nil),
		presence("supplier", f.Supplier != nil),
		presence("buyer", f.Buyer != nil),
		presence("amount", f.Amount != nil),
		presence("vat", f.VAT != nil),
	}

	if f.Amount != nil && f.VAT != nil && f.VATRate != nil {
		expected := round2(*f.Amount * *f.VATRate / 100)
		passed := math.Abs(*f.VAT-expected) <= VATTolerance
		r := CheckResult{
			Passed:    passed,
			FieldPath: "vat",
			Expected:  fmtf(expected),
			Actual:    fmtf(*f.VAT),
		}
		if passed {
			r.Message = "vat: calculation matches"
		} else {
			r.Message = fmt.Sprintf("vat: calculation mismatch (expected %s, got %s)", r.Expected, r.Actual)
		}
		results = append(results, r)
	}

	for _, r := range results {
		if !r.Passed {
			v.log.Warn("validate.check_failed",
				"field", r.FieldPath, "expected", r.Expected, "actual", r.Actual)
		}
	}
	return results
}

func presence(fieldPath string, present bool) CheckResult {
	r := CheckResult{
		Passed:    present,
		FieldPath: fieldPath,
		Expected:  "non-empty value",
	}
	if present {
		r.Message = fieldPath + ": present"
	} else {
		r.Message = fieldPath + ": missing"
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func fmtf(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
