// Package validation содержит проверки входных параметров платежей.
package validation

import (
	"math"
	"time"
)

// ToCents переводит сумму в основной валютной единице в минорные единицы.
// Входные суммы имеют не более двух знаков после запятой; округление
// до ближайшего целого гасит погрешность двоичного представления
// (4.35*100 в float64 — это 434.999...).
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// IsValidAmount проверяет, что сумма конечна и положительна.
func IsValidAmount(cents int64) bool {
	return cents > 0
}

// IsValidReceiptAmount проверяет сумму квитанции: допускается ноль,
// но не отрицательное значение.
func IsValidReceiptAmount(cents int64) bool {
	return cents >= 0
}

// IsFiniteAmount проверяет, что исходное значение суммы пригодно
// для перевода в минорные единицы.
func IsFiniteAmount(amount float64) bool {
	return !math.IsNaN(amount) && !math.IsInf(amount, 0) && amount < math.MaxInt64/100
}

// IsValidCurrency проверяет код валюты: три латинские буквы.
func IsValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// IsValidDate проверяет дату платежа: задана и не в будущем
// более чем на сутки.
func IsValidDate(date time.Time) bool {
	if date.IsZero() {
		return false
	}
	return !date.After(time.Now().Add(24 * time.Hour))
}
