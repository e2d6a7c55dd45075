// Package amortization converts a principal and installment count into the
// amount owed under the configured flat annual rate.
package amortization

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/scorelend/backend/internal/domain/errs"
)

var (
	monthsPerYear = decimal.NewFromInt(12)
	percent       = decimal.NewFromInt(100)
)

// Calculator is safe for concurrent use; the rate is fixed for its lifetime.
type Calculator struct {
	annualRate decimal.Decimal
}

// NewCalculator takes the annual rate in percent (12 means 12%).
func NewCalculator(annualRatePercent float64) *Calculator {
	return &Calculator{annualRate: decimal.NewFromFloat(annualRatePercent)}
}

func (c *Calculator) AnnualRate() decimal.Decimal {
	return c.annualRate
}

// MonthlyRate is annualRate / 12 / 100.
func (c *Calculator) MonthlyRate() decimal.Decimal {
	return c.annualRate.Div(monthsPerYear).Div(percent)
}

// TotalOwed is round(principal * (1 + monthlyRate * installments)).
func (c *Calculator) TotalOwed(principal int64, installments int) (int64, error) {
	if installments <= 0 {
		return 0, fmt.Errorf("invalid_installment_count %d: %w", installments, errs.ErrInvalidInput)
	}
	// principal * (1200 + rate*n) / 1200 keeps the division to a single step.
	n := decimal.NewFromInt(int64(installments))
	denominator := monthsPerYear.Mul(percent)
	numerator := decimal.NewFromInt(principal).Mul(denominator.Add(c.annualRate.Mul(n)))
	return numerator.Div(denominator).Round(0).IntPart(), nil
}

// PerInstallmentAmount is ceil(TotalOwed / installments).
func (c *Calculator) PerInstallmentAmount(principal int64, installments int) (int64, error) {
	total, err := c.TotalOwed(principal, installments)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(installments))).Ceil().IntPart(), nil
}
