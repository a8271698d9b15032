package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"payup/internal/domain"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"XAF": true,
	"XOF": true,
}

var templateFuncs = template.FuncMap{
	"json":   toJSON,
	"amount": formatAmount,
}

// ParseTemplate compiles a webhook body template.
func ParseTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(body)
}

// Render executes tmpl against event and returns the body in canonical JSON.
func Render(tmpl *domain.WebhookTemplate, event *domain.WebhookEvent) ([]byte, error) {
	t, err := ParseTemplate(string(tmpl.EventType), tmpl.Body)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}

	body, err := CanonicalizeJSON(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("template did not produce JSON: %w", err)
	}

	return body, nil
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatAmount renders minor units as a major-unit decimal string, e.g. 1050 USD -> "10.50".
func formatAmount(minor int64, currency string) string {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(minor).String()
	}
	return decimal.New(minor, -2).StringFixed(2)
}
