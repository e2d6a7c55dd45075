package loan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/score"
)

func TestApplyBorrowerCoversRequirement(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 100)
	e := newEngines(m)

	res, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1"})
	require.NoError(t, err)
	assert.Equal(t, ApplicationSubmittedMessage, res.Message)

	assert.Equal(t, int64(50), m.score("borrower"))
	tx := m.state.txs[res.LoanTransactionID]
	assert.Empty(t, tx.GuarantorID)
	assert.Equal(t, refNow, tx.StartDate)
	assert.Zero(t, tx.PaidAmount)
	assert.Nil(t, tx.EndDate)

	assert.Equal(t, []string{TopicScheduleInstallment}, m.topics())
	require.Len(t, m.state.history, 1)
	assert.Equal(t, score.ReasonLoanPledge, m.state.history[0].Reason)
	assert.Equal(t, int64(-50), m.state.history[0].Delta)
	assert.Equal(t, res.LoanTransactionID, m.state.history[0].ReferenceID)

	assert.Empty(t, m.state.installments, "first installment is created by the worker")
	e.drain(t, m)
	require.Len(t, m.unpaid(res.LoanTransactionID), 1)
}

func TestApplyWithGuarantor(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 30)
	m.addUser("guarantor", 10)
	e := newEngines(m)

	res, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1", GuarantorID: "guarantor"})
	require.NoError(t, err)

	assert.Equal(t, int64(30-45), m.score("borrower"))
	assert.Equal(t, int64(5), m.score("guarantor"))
	assert.Equal(t, "guarantor", m.state.txs[res.LoanTransactionID].GuarantorID)

	require.Len(t, m.state.history, 2)
	reasons := []score.Reason{m.state.history[0].Reason, m.state.history[1].Reason}
	assert.ElementsMatch(t, []score.Reason{score.ReasonLoanPledge, score.ReasonGuarantorPledge}, reasons)
}

func TestApplyRejectsWeakGuarantorWithoutSideEffects(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 30)
	m.addUser("guarantor", 3)
	e := newEngines(m)

	_, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1", GuarantorID: "guarantor"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInsufficientScore))

	assert.Equal(t, int64(30), m.score("borrower"))
	assert.Equal(t, int64(3), m.score("guarantor"))
	assert.Empty(t, m.state.txs)
	assert.Empty(t, m.state.history)
	assert.Empty(t, m.state.outbox)
}

func TestApplyIgnoresGuarantorWhenBorrowerSuffices(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 50)
	m.addUser("guarantor", 10)
	e := newEngines(m)

	res, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1", GuarantorID: "guarantor"})
	require.NoError(t, err)

	assert.Zero(t, m.score("borrower"))
	assert.Equal(t, int64(10), m.score("guarantor"))
	assert.Empty(t, m.state.txs[res.LoanTransactionID].GuarantorID)
}

func TestApplyRejections(t *testing.T) {
	cases := []struct {
		name      string
		borrower  string
		guarantor string
		loanID    string
		want      error
	}{
		{name: "no guarantor", borrower: "poor", loanID: "loan-1", want: errs.ErrInsufficientScore},
		{name: "blank guarantor", borrower: "poor", guarantor: "   ", loanID: "loan-1", want: errs.ErrInsufficientScore},
		{name: "self guarantee", borrower: "poor", guarantor: "poor", loanID: "loan-1", want: errs.ErrInsufficientScore},
		{name: "unknown guarantor", borrower: "poor", guarantor: "ghost", loanID: "loan-1", want: errs.ErrNotFound},
		{name: "unknown borrower", borrower: "ghost", loanID: "loan-1", want: errs.ErrNotFound},
		{name: "unknown loan", borrower: "rich", loanID: "loan-404", want: errs.ErrNotFound},
		{name: "blank loan", borrower: "rich", want: errs.ErrNotFound},
		{name: "anonymous", loanID: "loan-1", want: errs.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := referenceStore(t)
			m.addUser("poor", 10)
			m.addUser("rich", 500)
			e := newEngines(m)

			_, err := e.apply.Apply(context.Background(), tc.borrower, ApplyInput{LoanID: tc.loanID, GuarantorID: tc.guarantor})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, int64(10), m.score("poor"))
			assert.Equal(t, int64(500), m.score("rich"))
			assert.Empty(t, m.state.txs)
		})
	}
}

func TestApplyLockTimeoutIsRetryable(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 30)
	m.addUser("guarantor", 10)
	m.lockErr["guarantor"] = errs.ErrLockTimeout
	e := newEngines(m)

	_, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1", GuarantorID: "guarantor"})
	assert.True(t, errors.Is(err, errs.ErrLockTimeout))
	assert.Equal(t, int64(30), m.score("borrower"))
}

func TestApplyRollsBackWhenOutboxFails(t *testing.T) {
	m := referenceStore(t)
	m.addUser("borrower", 100)
	m.failOn = TopicScheduleInstallment
	e := newEngines(m)

	_, err := e.apply.Apply(context.Background(), "borrower", ApplyInput{LoanID: "loan-1"})
	require.Error(t, err)
	assert.Equal(t, int64(100), m.score("borrower"))
	assert.Empty(t, m.state.txs)
	assert.Empty(t, m.state.history)
}

func TestApplyLocksUsersInIDOrder(t *testing.T) {
	for _, roles := range [][2]string{{"u-2", "u-1"}, {"u-1", "u-2"}} {
		m := referenceStore(t)
		m.addUser("u-1", 10)
		m.addUser("u-2", 10)
		e := newEngines(m)

		_, err := e.apply.Apply(context.Background(), roles[0], ApplyInput{LoanID: "loan-1", GuarantorID: roles[1]})
		require.NoError(t, err)
		assert.Equal(t, []string{"user:u-1", "user:u-2"}, m.locks)
	}
}

func TestApplyDoesNotLockGuarantorWhenBorrowerSuffices(t *testing.T) {
	for _, ids := range [][2]string{{"b", "g"}, {"b", "a"}} {
		m := referenceStore(t)
		m.addUser(ids[0], 100)
		m.addUser(ids[1], 10)
		m.lockErr[ids[1]] = errs.ErrLockTimeout
		e := newEngines(m)

		_, err := e.apply.Apply(context.Background(), ids[0], ApplyInput{LoanID: "loan-1", GuarantorID: ids[1]})
		require.NoError(t, err, "guarantor %s", ids[1])
		assert.Equal(t, int64(50), m.score(ids[0]))
		assert.Equal(t, []string{"user:" + ids[0]}, m.locks)
	}
}

func TestApplyRetriesWhenBorrowerScoreDropsBeforeLock(t *testing.T) {
	m := referenceStore(t)
	m.addUser("u-2", 10)
	m.addUser("u-1", 100)
	m.staleScore["u-2"] = 100
	e := newEngines(m)

	_, err := e.apply.Apply(context.Background(), "u-2", ApplyInput{LoanID: "loan-1", GuarantorID: "u-1"})
	require.ErrorIs(t, err, errs.ErrLockTimeout)
	assert.Equal(t, []string{"user:u-2"}, m.locks)
	assert.Equal(t, int64(10), m.score("u-2"))
	assert.Equal(t, int64(100), m.score("u-1"))
}

func TestApplyEligibilityIsMonotonic(t *testing.T) {
	for _, required := range []int64{0, 1, 5, 49, 50, 1000} {
		for _, extra := range []int64{0, 1, 7, 1000} {
			m := newMemStore()
			m.products["p"] = Product{ID: "p", Name: "p", Principal: 100, NumberOfInstallments: 1, RequiredScore: required}
			m.addUser("b", required+extra)

			_, err := newEngines(m).apply.Apply(context.Background(), "b", ApplyInput{LoanID: "p"})
			require.NoError(t, err, "required=%d extra=%d", required, extra)
			assert.Equal(t, extra, m.score("b"))
		}
	}
}

func TestApplyConservesScore(t *testing.T) {
	for _, required := range []int64{1, 4, 5, 15, 45, 50, 99, 1001} {
		m := newMemStore()
		m.products["p"] = Product{ID: "p", Name: "p", Principal: 100, NumberOfInstallments: 1, RequiredScore: required}
		m.addUser("b", required-1)
		m.addUser("g", required)

		_, err := newEngines(m).apply.Apply(context.Background(), "b", ApplyInput{LoanID: "p", GuarantorID: "g"})
		require.NoError(t, err, "required=%d", required)

		spent := (required - 1 - m.score("b")) + (required - m.score("g"))
		assert.Equal(t, required, spent, "required=%d", required)
	}
}

func TestGuarantorContribution(t *testing.T) {
	cases := map[int64]int64{0: 0, 4: 0, 5: 1, 44: 4, 45: 5, 50: 5, 1005: 101}
	for required, want := range cases {
		assert.Equal(t, want, GuarantorContribution(required), "required=%d", required)
	}
}
