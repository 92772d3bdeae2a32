package schema

import (
	"strconv"
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

const (
	statusAdmin = "Admin"
	statusPromo = "Promo Code"
	statusYes   = "Yes"
	statusNo    = "No"
	rupee       = "₹"
)

// PaymentStatus renders the Payment Status cell.
func PaymentStatus(p *models.Payment) string {
	switch {
	case p == nil:
		return statusNo
	case p.BypassPasswordUsed:
		return statusAdmin
	case p.PromoCodeUsed && p.PaymentDone:
		return statusPromo
	case p.PaymentDone && p.Amount > 0:
		return statusYes + " / " + rupee + formatAmount(p.Amount)
	case p.PaymentDone:
		return statusYes
	default:
		return statusNo
	}
}

// ParsePaymentStatus is the inverse of PaymentStatus. Blank cells (legacy
// rows without the column) yield nil; unrecognised text yields "not paid".
func ParsePaymentStatus(cell string) *models.Payment {
	s := strings.TrimSpace(cell)
	switch {
	case s == "":
		return nil
	case strings.EqualFold(s, statusAdmin):
		return &models.Payment{BypassPasswordUsed: true}
	case strings.EqualFold(s, statusPromo):
		return &models.Payment{PaymentDone: true, PromoCodeUsed: true}
	case strings.EqualFold(s, statusYes):
		return &models.Payment{PaymentDone: true}
	}
	if head, amount, ok := strings.Cut(s, "/"); ok && strings.EqualFold(strings.TrimSpace(head), statusYes) {
		amount = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), rupee))
		if v, err := strconv.ParseFloat(amount, 64); err == nil {
			return &models.Payment{PaymentDone: true, Amount: v}
		}
		return &models.Payment{PaymentDone: true}
	}
	return &models.Payment{}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
