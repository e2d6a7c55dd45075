package loan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scorelend/backend/internal/domain/amortization"
	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/score"
	"github.com/scorelend/backend/internal/domain/user"
)

type outboxRow struct {
	topic   string
	payload []byte
}

type memState struct {
	users        map[string]user.Entity
	txs          map[string]Transaction
	installments map[string]Installment
	history      []score.Entry
	outbox       []outboxRow
}

func (s memState) clone() memState {
	out := memState{
		users:        make(map[string]user.Entity, len(s.users)),
		txs:          make(map[string]Transaction, len(s.txs)),
		installments: make(map[string]Installment, len(s.installments)),
		history:      append([]score.Entry(nil), s.history...),
		outbox:       append([]outboxRow(nil), s.outbox...),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.txs {
		out.txs[k] = v
	}
	for k, v := range s.installments {
		out.installments[k] = v
	}
	return out
}

// memStore is an in-memory UnitOfWork. A failed WithinTx restores the state
// it saw on entry, the way a rolled back database transaction would.
type memStore struct {
	state    memState
	products map[string]Product
	seq      int
	locks    []string
	lockErr  map[string]error
	failOn   string

	// staleScore makes unlocked reads of a user see an older score.
	staleScore map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			users:        map[string]user.Entity{},
			txs:          map[string]Transaction{},
			installments: map[string]Installment{},
		},
		products:   map[string]Product{},
		lockErr:    map[string]error{},
		staleScore: map[string]int64{},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	snapshot := m.state.clone()
	err := fn(ctx, Repos{
		Users:        memUsers{m},
		ScoreHistory: memHistory{m},
		Transactions: memTransactions{m},
		Installments: memInstallments{m},
		Outbox:       memOutbox{m},
	})
	if err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, loanID string) (*Product, error) {
	p, ok := m.products[loanID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addUser(id string, s int64) {
	m.state.users[id] = user.Entity{ID: id, Score: s}
}

func (m *memStore) score(id string) int64 {
	return m.state.users[id].Score
}

func (m *memStore) topics() []string {
	out := make([]string, 0, len(m.state.outbox))
	for _, row := range m.state.outbox {
		out = append(out, row.topic)
	}
	return out
}

func (m *memStore) unpaid(txID string) []Installment {
	var out []Installment
	for _, inst := range m.state.installments {
		if inst.LoanTransactionID == txID && !inst.Paid {
			out = append(out, inst)
		}
	}
	return out
}

type memUsers struct{ m *memStore }

func (r memUsers) Get(_ context.Context, id string) (*user.Entity, error) {
	u, ok := r.m.state.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if s, stale := r.m.staleScore[id]; stale {
		u.Score = s
	}
	return &u, nil
}

func (r memUsers) LockForUpdate(_ context.Context, id string) (*user.Entity, error) {
	r.m.locks = append(r.m.locks, "user:"+id)
	if err := r.m.lockErr[id]; err != nil {
		return nil, err
	}
	u, ok := r.m.state.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (r memUsers) UpdateScore(_ context.Context, id string, s int64) error {
	u, ok := r.m.state.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.Score = s
	u.Version++
	r.m.state.users[id] = u
	return nil
}

type memHistory struct{ m *memStore }

func (r memHistory) Append(_ context.Context, e score.Entry) error {
	e.ID = int64(len(r.m.state.history) + 1)
	r.m.state.history = append(r.m.state.history, e)
	return nil
}

type memTransactions struct{ m *memStore }

func (r memTransactions) Create(_ context.Context, in CreateTransactionInput) (*Transaction, error) {
	tx := Transaction{
		ID:          r.m.next("tx"),
		BorrowerID:  in.BorrowerID,
		GuarantorID: in.GuarantorID,
		LoanID:      in.LoanID,
		StartDate:   in.StartDate,
		Product:     r.m.products[in.LoanID],
	}
	r.m.state.txs[tx.ID] = tx
	return &tx, nil
}

func (r memTransactions) Get(_ context.Context, id string) (*Transaction, error) {
	tx, ok := r.m.state.txs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &tx, nil
}

func (r memTransactions) GetForUpdate(ctx context.Context, id string) (*Transaction, error) {
	r.m.locks = append(r.m.locks, "tx:"+id)
	return r.Get(ctx, id)
}

func (r memTransactions) RecordPayment(_ context.Context, id string, paidAmount int64, endDate *time.Time) error {
	tx := r.m.state.txs[id]
	tx.PaidAmount = paidAmount
	tx.EndDate = endDate
	r.m.state.txs[id] = tx
	return nil
}

type memInstallments struct{ m *memStore }

func (r memInstallments) Create(_ context.Context, in CreateInstallmentInput) (*Installment, error) {
	if len(r.m.unpaid(in.LoanTransactionID)) > 0 {
		return nil, errs.ErrAlreadyExists
	}
	inst := Installment{ID: r.m.next("inst"), LoanTransactionID: in.LoanTransactionID, DueDate: in.DueDate}
	r.m.state.installments[inst.ID] = inst
	return &inst, nil
}

func (r memInstallments) GetForUpdate(_ context.Context, id string) (*Installment, error) {
	r.m.locks = append(r.m.locks, "inst:"+id)
	inst, ok := r.m.state.installments[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &inst, nil
}

func (r memInstallments) FindUnpaidForUpdate(_ context.Context, txID string) (*Installment, error) {
	unpaid := r.m.unpaid(txID)
	if len(unpaid) == 0 {
		return nil, errs.ErrNotFound
	}
	r.m.locks = append(r.m.locks, "inst:"+unpaid[0].ID)
	return &unpaid[0], nil
}

func (r memInstallments) MarkPaid(_ context.Context, id string, at time.Time) error {
	inst := r.m.state.installments[id]
	inst.Paid = true
	inst.PaymentDate = &at
	r.m.state.installments[id] = inst
	return nil
}

func (r memInstallments) MarkBonusApplied(_ context.Context, id string, at time.Time) error {
	inst := r.m.state.installments[id]
	inst.BonusAppliedAt = &at
	r.m.state.installments[id] = inst
	return nil
}

type memOutbox struct{ m *memStore }

func (r memOutbox) Enqueue(_ context.Context, topic string, payload []byte) error {
	if r.m.failOn == topic {
		return errors.New("outbox unavailable")
	}
	r.m.state.outbox = append(r.m.state.outbox, outboxRow{topic: topic, payload: payload})
	return nil
}

var (
	refCalc = amortization.NewCalculator(12)
	refNow  = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
)

// referenceStore holds the loan used throughout: principal 1000 over 10
// installments at 12%, required score 50, award 20.
func referenceStore(t *testing.T) *memStore {
	t.Helper()
	p, err := NewProduct(refCalc, "starter", 1000, 10, 50, 20)
	require.NoError(t, err)
	p.ID = "loan-1"
	m := newMemStore()
	m.products[p.ID] = *p
	return m
}

type engines struct {
	apply     *ApplicationEngine
	pay       *SettlementEngine
	schedule  *Scheduler
	bonus     *BonusEngine
	clock     time.Time
	delivered int
}

func newEngines(m *memStore) *engines {
	e := &engines{
		apply:    NewApplicationEngine(m, m, nil),
		pay:      NewSettlementEngine(m, refCalc, nil),
		schedule: NewScheduler(m, nil),
		bonus:    NewBonusEngine(m, nil),
		clock:    refNow,
	}
	now := func() time.Time { return e.clock }
	e.apply.now, e.pay.now, e.schedule.now, e.bonus.now = now, now, now, now
	return e
}

// drain runs every outbox row not yet delivered, in order.
func (e *engines) drain(t *testing.T, m *memStore) {
	t.Helper()
	for e.delivered < len(m.state.outbox) {
		row := m.state.outbox[e.delivered]
		e.delivered++
		e.deliver(t, row)
	}
}

func (e *engines) deliver(t *testing.T, row outboxRow) {
	t.Helper()
	ctx := context.Background()
	switch row.topic {
	case TopicScheduleInstallment:
		var p ScheduleInstallmentPayload
		require.NoError(t, json.Unmarshal(row.payload, &p))
		_, err := e.schedule.ScheduleNext(ctx, p.LoanTransactionID)
		require.NoError(t, err)
	case TopicDistributeBonus:
		var p DistributeBonusPayload
		require.NoError(t, json.Unmarshal(row.payload, &p))
		_, err := e.bonus.Distribute(ctx, p.InstallmentID)
		require.NoError(t, err)
	}
}
