package gigachat

import "strings"

// promptSourceCap is the hard cap on source text passed to the model,
// in runes. Longer documents are truncated, not rejected.
const promptSourceCap = 4000

// promptTemplate is the fixed extraction instruction. The contract is a
// ten-field JSON object: six required fields and four nullable ones.
const promptTemplate = `Ты эксперт по аудиту счетов-фактур. Извлеки данные из текста счет-фактуры.

ВАЖНО: Верни ТОЛЬКО валидный JSON без дополнительного текста, комментариев, markdown или пояснений!

ФОРМАТ ОТВЕТА:
{
  "invoice_number": "строка",
  "date": "YYYY-MM-DD",
  "supplier": "название организации",
  "buyer": "название организации",
  "amount": число,
  "vat": число,
  "vat_rate": число,
  "contract_number": "строка или null",
  "payment_date": "YYYY-MM-DD или null",
  "meter_number": "строка или null"
}

ПРАВИЛА:
- invoice_number - номер счет-фактуры
- date - дата выставления счет-фактуры (формат YYYY-MM-DD)
- supplier - организация, выставившая счет
- buyer - организация, получившая счет
- amount - сумма БЕЗ НДС (число без кавычек)
- vat - сумма НДС (число без кавычек)
- vat_rate - ставка НДС в процентах (число без кавычек, например 20)
- Если данные не найдены, используй null
- НЕ добавляй пояснения, комментарии или дополнительный текст

ТЕКСТ СЧЕТ-ФАКТУРЫ:
{{TEXT}}

JSON:`

// BuildPrompt fills the extraction template with the source text, truncated
// to the prompt cap.
func BuildPrompt(text string) string {
	if runes := []rune(text); len(runes) > promptSourceCap {
		text = string(runes[:promptSourceCap])
	}
	return strings.Replace(promptTemplate, "{{TEXT}}", text, 1)
}
