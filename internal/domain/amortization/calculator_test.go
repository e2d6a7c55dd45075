package amortization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorelend/backend/internal/domain/errs"
)

func TestMonthlyRate(t *testing.T) {
	c := NewCalculator(12)
	assert.Equal(t, "0.01", c.MonthlyRate().String())
}

func TestTotalOwedAndInstallment(t *testing.T) {
	cases := []struct {
		name        string
		rate        float64
		principal   int64
		n           int
		total       int64
		installment int64
	}{
		{name: "reference loan", rate: 12, principal: 1000, n: 10, total: 1100, installment: 110},
		{name: "zero rate", rate: 0, principal: 1000, n: 3, total: 1000, installment: 334},
		{name: "ceil on remainder", rate: 12, principal: 1000, n: 3, total: 1030, installment: 344},
		{name: "rounds half up", rate: 10, principal: 10, n: 6, total: 11, installment: 2},
		{name: "fractional rate", rate: 18.5, principal: 250000, n: 24, total: 342500, installment: 14271},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCalculator(tc.rate)
			total, err := c.TotalOwed(tc.principal, tc.n)
			require.NoError(t, err)
			assert.Equal(t, tc.total, total)

			per, err := c.PerInstallmentAmount(tc.principal, tc.n)
			require.NoError(t, err)
			assert.Equal(t, tc.installment, per)
			assert.GreaterOrEqual(t, per*int64(tc.n), total, "installments always cover the total")
		})
	}
}

func TestRejectsNonPositiveInstallments(t *testing.T) {
	c := NewCalculator(12)
	_, err := c.TotalOwed(1000, 0)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	_, err = c.PerInstallmentAmount(1000, -1)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}
