package services

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TimestampLayout renders created_at as ISO-8601 UTC with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

var printer = message.NewPrinter(language.English)

// FormatPrice renders 250000 as "250,000.00".
func FormatPrice(price float64) string {
	return printer.Sprintf("%.2f", price)
}

// FormatCurrency renders 250000 as "$250,000.00".
func FormatCurrency(price float64) string {
	return "$" + FormatPrice(price)
}

// FormatCount renders 1500 as "1,500".
func FormatCount(n int) string {
	return printer.Sprintf("%d", n)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
