package quote

import (
	"math"
	"strconv"

	"rfqdesk/models"
)

// ParseAmount разбирает денежное поле формы. Пустое значение и мусор дают 0.
func ParseAmount(s string) float64 {
	f := models.Number(s).Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FormatMoney всегда два знака после запятой, -0.00 печатается как 0.00
func FormatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

type Totals struct {
	Subtotal string
	Discount string
	Delivery string
	Total    string
}

// ComputeTotals проставляет LineTotal каждой строке и считает итог.
// Итог может быть отрицательным, если скидка больше суммы.
func ComputeTotals(lines []models.QuoteLine, delivery, discount float64) Totals {
	var subtotal float64
	for i := range lines {
		lt := ParseAmount(lines[i].Price) * ParseAmount(lines[i].Quantity)
		lines[i].LineTotal = FormatMoney(lt)
		subtotal += lt
	}
	return Totals{
		Subtotal: FormatMoney(subtotal),
		Discount: FormatMoney(discount),
		Delivery: FormatMoney(delivery),
		Total:    FormatMoney(subtotal + delivery - discount),
	}
}
