package invoice

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Parser recovers a best-effort record from a raw model reply. It never
// fails: each tier runs only if the previous one could not produce a record,
// and the final regex salvage always yields a value (possibly all-unset).
type Parser struct {
	log *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{log: logger}
}

var (
	reFence       = regexp.MustCompile("```(?:json)?\\s*")
	reStringBreak = regexp.MustCompile(`"\s*:\s*"([^"]*)\n([^"]*)"`)
	reCommaBreak  = regexp.MustCompile(`,\s*\n\s*`)
	reOpenBreak   = regexp.MustCompile(`{\s*\n\s*`)
	reCloseBreak  = regexp.MustCompile(`\s*\n\s*}`)
	reWhitespace  = regexp.MustCompile(`\s+`)

	reTrailingObj = regexp.MustCompile(`,\s*}`)
	reTrailingArr = regexp.MustCompile(`,\s*\]`)
)

// Recover runs the tiered fallback chain on a raw reply.
func (p *Parser) Recover(raw string) Fields {
	candidate := isolate(raw)

	f, err := parseObject(candidate)
	if err == nil {
		p.log.Debug("recover.strict.ok", "bytes", len(candidate))
		return f
	}
	p.log.Warn("recover.strict.failed", "error", err)

	repaired := repair(candidate)
	f, err = parseObject(repaired)
	if err == nil {
		p.log.Info("recover.repair.ok", "bytes", len(repaired))
		return f
	}
	p.log.Warn("recover.repair.failed", "error", err)

	f = salvage(repaired)
	p.log.Info("recover.salvage.done", "empty", f.Empty())
	return f
}

// isolate strips markdown fences, cuts the first-{ .. last-} span, and folds
// newlines the model tends to leave inside and between values. If no braces
// are present the whole text is the candidate.
func isolate(text string) string {
	text = reFence.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}

	s := text[start : end+1]
	s = reStringBreak.ReplaceAllString(s, `": "$1 $2"`)
	s = reCommaBreak.ReplaceAllString(s, ", ")
	s = reOpenBreak.ReplaceAllString(s, "{ ")
	s = reCloseBreak.ReplaceAllString(s, " }")
	s = reWhitespace.ReplaceAllString(s, " ")
	return s
}

// repair fixes the two most common syntax defects: trailing commas and
// single-quoted strings.
func repair(s string) string {
	s = reTrailingObj.ReplaceAllString(s, "}")
	s = reTrailingArr.ReplaceAllString(s, "]")
	s = strings.ReplaceAll(s, "'", `"`)
	return s
}

func parseObject(s string) (Fields, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Fields{}, err
	}
	return fieldsFromMap(m), nil
}

func fieldsFromMap(m map[string]any) Fields {
	return Fields{
		InvoiceNumber:  textValue(m, "invoice_number"),
		Date:           textValue(m, "date"),
		Supplier:       textValue(m, "supplier"),
		Buyer:          textValue(m, "buyer"),
		Amount:         numberValue(m, "amount"),
		VAT:            numberValue(m, "vat"),
		VATRate:        numberValue(m, "vat_rate"),
		ContractNumber: textValue(m, "contract_number"),
		PaymentDate:    textValue(m, "payment_date"),
		MeterNumber:    textValue(m, "meter_number"),
	}
}

func textValue(m map[string]any, key string) *string {
	switch t := m[key].(type) {
	case string:
		return &t
	case float64:
		// identifiers sometimes come back unquoted
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

func numberValue(m map[string]any, key string) *float64 {
	switch t := m[key].(type) {
	case float64:
		return &t
	case string:
		if v, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &v
		}
		return nil
	default:
		return nil
	}
}

// per-field salvage patterns; quoted-string for text fields, bare numeric for
// money fields, quoted-or-null for the optional tail
var (
	reFieldInvoiceNumber  = regexp.MustCompile(`"invoice_number"\s*:\s*"([^"]*)"`)
	reFieldDate           = regexp.MustCompile(`"date"\s*:\s*"([^"]*)"`)
	reFieldSupplier       = regexp.MustCompile(`"supplier"\s*:\s*"([^"]*)"`)
	reFieldBuyer          = regexp.MustCompile(`"buyer"\s*:\s*"([^"]*)"`)
	reFieldAmount         = regexp.MustCompile(`"amount"\s*:\s*([0-9.]+)`)
	reFieldVAT            = regexp.MustCompile(`"vat"\s*:\s*([0-9.]+)`)
	reFieldVATRate        = regexp.MustCompile(`"vat_rate"\s*:\s*([0-9.]+)`)
	reFieldContractNumber = regexp.MustCompile(`"contract_number"\s*:\s*(?:"([^"]*)"|null)`)
	reFieldPaymentDate    = regexp.MustCompile(`"payment_date"\s*:\s*(?:"([^"]*)"|null)`)
	reFieldMeterNumber    = regexp.MustCompile(`"meter_number"\s*:\s*(?:"([^"]*)"|null)`)
)

// salvage searches the candidate for each known field independently and
// populates whatever matches. This tier cannot fail; unmatched or
// unconvertible fields stay unset.
func salvage(s string) Fields {
	return Fields{
		InvoiceNumber:  salvageText(reFieldInvoiceNumber, s),
		Date:           salvageText(reFieldDate, s),
		Supplier:       salvageText(reFieldSupplier, s),
		Buyer:          salvageText(reFieldBuyer, s),
		Amount:         salvageNumber(reFieldAmount, s),
		VAT:            salvageNumber(reFieldVAT, s),
		VATRate:        salvageNumber(reFieldVATRate, s),
		ContractNumber: salvageText(reFieldContractNumber, s),
		PaymentDate:    salvageText(reFieldPaymentDate, s),
		MeterNumber:    salvageText(reFieldMeterNumber, s),
	}
}

func salvageText(re *regexp.Regexp, s string) *string {
	m := re.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return nil
	}
	return &m[1]
}

func salvageNumber(re *regexp.Regexp, s string) *float64 {
	m := re.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
