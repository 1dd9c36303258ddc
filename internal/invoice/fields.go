package invoice

import "encoding/json"

// Fields is the normalized record shape we want from the model. Every field
// is optional; nil means the model did not produce it.
type Fields struct {
	InvoiceNumber  *string  `json:"invoice_number"`
	Date           *string  `json:"date"` // YYYY-MM-DD
	Supplier       *string  `json:"supplier"`
	Buyer          *string  `json:"buyer"`
	Amount         *float64 `json:"amount"` // net of VAT
	VAT            *float64 `json:"vat"`
	VATRate        *float64 `json:"vat_rate"` // percent
	ContractNumber *string  `json:"contract_number"`
	PaymentDate    *string  `json:"payment_date"` // YYYY-MM-DD
	MeterNumber    *string  `json:"meter_number"`
}

// Empty reports whether no field was recovered at all. An empty record is a
// non-answer, not a malformed-but-meaningful one.
func (f Fields) Empty() bool {
	return f.InvoiceNumber == nil && f.Date == nil && f.Supplier == nil &&
		f.Buyer == nil && f.Amount == nil && f.VAT == nil && f.VATRate == nil &&
		f.ContractNumber == nil && f.PaymentDate == nil && f.MeterNumber == nil
}

// Diagnostic is the terminal failure record: emitted when every recovery tier
// came up empty on the final attempt, preserving the raw reply for offline
// inspection.
type Diagnostic struct {
	Error         string `json:"error"`
	RawResponse   string `json:"raw_response"`
	ExtractedText string `json:"extracted_text"`
}

// Result is the audit outcome: either a recovered record or a diagnostic.
type Result struct {
	Fields     *Fields
	Diagnostic *Diagnostic
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Diagnostic != nil {
		return json.Marshal(r.Diagnostic)
	}
	return json.Marshal(r.Fields)
}
