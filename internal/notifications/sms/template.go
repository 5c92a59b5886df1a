// Package sms implements the queue item pipeline: settings resolution, the
// eligibility gate, message rendering, and the Twilio dispatch loop.
package sms

import (
	"regexp"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"smsrelay/internal/types"
)

// placeholderPattern matches {key} where key is a word. Anything else in
// braces is left untouched.
var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// RenderTemplate replaces every {key} in tmpl with vars[key]. Keys missing
// from vars render as "".
func RenderTemplate(tmpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

var usdPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatUSD formats amount as en-US dollars with cents and thousands
// separators, e.g. 1234.5 -> "$1,234.50" and -3 -> "-$3.00".
func FormatUSD(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	abs, _ := d.Abs().Float64()
	s := "$" + usdPrinter.Sprintf("%.2f", abs)
	if d.IsNegative() {
		return "-" + s
	}
	return s
}

// MessageVars binds the template placeholders for item.
func MessageVars(item types.QueueItem) map[string]string {
	name := item.DonorName
	if name == "" {
		name = "Donor"
	}
	return map[string]string{
		"name":   name,
		"amount": FormatUSD(item.Amount),
		"date":   item.Date,
		"id":     item.TransactionID,
	}
}
