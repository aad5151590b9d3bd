// internal/repository/memory/store.go
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/pkg/db"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type prefKey struct {
	userID   uuid.UUID
	scope    domain.PreferenceScope
	circleID uuid.UUID
}

type memberKey struct {
	circleID uuid.UUID
	userID   uuid.UUID
}

type txRefKey struct {
	refType, refID string
	txType         domain.TransactionType
	balanceType    domain.BalanceType
}

type reservationKey struct {
	walletID, circleID uuid.UUID
	cycleNumber        int
}

// state is one consistent version of every table.
type state struct {
	wallets       map[uuid.UUID]*domain.Wallet
	walletByUser  map[uuid.UUID]uuid.UUID
	transactions  []domain.WalletTransaction
	txRefs        map[txRefKey]struct{}
	reservations  map[uuid.UUID]*domain.ContributionReservation
	reservationBy map[reservationKey]uuid.UUID
	goals         map[uuid.UUID]*domain.SavingsGoal
	prefs         map[prefKey]*domain.PayoutPreference
	circles       map[uuid.UUID]*domain.Circle
	cycles        map[uuid.UUID]*domain.Cycle
	members       map[memberKey]*domain.Membership
	contributions map[uuid.UUID]map[uuid.UUID]int64 // cycle -> user -> amount paid
	executions    map[uuid.UUID]*domain.PayoutExecution
	legs          map[uuid.UUID][]domain.PayoutLeg
	movements     map[uuid.UUID]*domain.MoneyMovement
	identities    map[uuid.UUID]domain.IdentityStatus
	restrictions  map[uuid.UUID][]string
	defaults      map[uuid.UUID]int
	custodial     map[string]int64
	remittance    map[uuid.UUID][]domain.RemittanceRecipient
}

func newState() *state {
	return &state{
		wallets:       map[uuid.UUID]*domain.Wallet{},
		walletByUser:  map[uuid.UUID]uuid.UUID{},
		txRefs:        map[txRefKey]struct{}{},
		reservations:  map[uuid.UUID]*domain.ContributionReservation{},
		reservationBy: map[reservationKey]uuid.UUID{},
		goals:         map[uuid.UUID]*domain.SavingsGoal{},
		prefs:         map[prefKey]*domain.PayoutPreference{},
		circles:       map[uuid.UUID]*domain.Circle{},
		cycles:        map[uuid.UUID]*domain.Cycle{},
		members:       map[memberKey]*domain.Membership{},
		contributions: map[uuid.UUID]map[uuid.UUID]int64{},
		executions:    map[uuid.UUID]*domain.PayoutExecution{},
		legs:          map[uuid.UUID][]domain.PayoutLeg{},
		movements:     map[uuid.UUID]*domain.MoneyMovement{},
		identities:    map[uuid.UUID]domain.IdentityStatus{},
		restrictions:  map[uuid.UUID][]string{},
		defaults:      map[uuid.UUID]int{},
		custodial:     map[string]int64{},
		remittance:    map[uuid.UUID][]domain.RemittanceRecipient{},
	}
}

func clonePtrMap[K comparable, V any](in map[K]*V) map[K]*V {
	out := make(map[K]*V, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](in map[K][]V) map[K][]V {
	out := make(map[K][]V, len(in))
	for k, v := range in {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		wallets:       clonePtrMap(s.wallets),
		walletByUser:  cloneMap(s.walletByUser),
		transactions:  append([]domain.WalletTransaction(nil), s.transactions...),
		txRefs:        cloneMap(s.txRefs),
		reservations:  clonePtrMap(s.reservations),
		reservationBy: cloneMap(s.reservationBy),
		goals:         clonePtrMap(s.goals),
		prefs:         clonePtrMap(s.prefs),
		circles:       clonePtrMap(s.circles),
		cycles:        clonePtrMap(s.cycles),
		members:       clonePtrMap(s.members),
		contributions: make(map[uuid.UUID]map[uuid.UUID]int64, len(s.contributions)),
		executions:    make(map[uuid.UUID]*domain.PayoutExecution, len(s.executions)),
		legs:          cloneSliceMap(s.legs),
		movements:     clonePtrMap(s.movements),
		identities:    cloneMap(s.identities),
		restrictions:  cloneSliceMap(s.restrictions),
		defaults:      cloneMap(s.defaults),
		custodial:     cloneMap(s.custodial),
		remittance:    cloneSliceMap(s.remittance),
	}
	for k, v := range s.contributions {
		c.contributions[k] = cloneMap(v)
	}
	for k, v := range s.executions {
		c.executions[k] = v.Clone()
	}
	return c
}

// Store is a transactional in-memory implementation of every repository.
// Transactions work on a private copy of the data and are serialized; commit
// publishes the copy atomically.
type Store struct {
	mu        sync.RWMutex
	sem       chan struct{}
	committed *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("memory store: waiting for transaction slot: %w", ctx.Err())
	}
}

func (s *Store) release() { <-s.sem }

// BeginTx starts a transaction. It blocks while another transaction is open.
func (s *Store) BeginTx(ctx context.Context, _ *sql.TxOptions) (*Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := s.committed.clone()
	s.mu.RUnlock()
	return &Tx{store: s, st: snapshot}, nil
}

// Transactor returns transaction functions bound to this store.
func (s *Store) Transactor(logger *zap.Logger) db.Transactor {
	return db.Transactor{
		Begin: func(ctx context.Context, opts *sql.TxOptions) (db.TxController, error) {
			tx, err := s.BeginTx(ctx, opts)
			if err != nil {
				return nil, err
			}
			return tx, nil
		},
		Commit: db.CommitTx,
		Rollback: func(tx db.TxController) {
			db.RollbackTx(tx, logger)
		},
	}
}

// view runs fn against the transaction's copy when q is a Tx of this store,
// otherwise against committed data under a read lock.
func (s *Store) view(q repository.DBExecutor, fn func(st *state) error) error {
	if tx, ok := q.(*Tx); ok && tx.store == s {
		if tx.done {
			return sql.ErrTxDone
		}
		return fn(tx.st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

// update runs fn inside q's transaction, or as its own single-statement
// transaction when q is not a Tx. fn must validate before it mutates.
func (s *Store) update(ctx context.Context, q repository.DBExecutor, fn func(st *state) error) error {
	if tx, ok := q.(*Tx); ok && tx.store == s {
		if tx.done {
			return sql.ErrTxDone
		}
		return fn(tx.st)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.committed)
}

func (s *Store) GetContext(context.Context, interface{}, string, ...interface{}) error { return errNoSQL }
func (s *Store) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}
func (s *Store) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (s *Store) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

// Tx is a memory store transaction. It satisfies db.TxController and repository.DBExecutor.
type Tx struct {
	store *Store
	st    *state
	done  bool
	mu    sync.Mutex
}

func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.st
	t.store.mu.Unlock()
	t.store.release()
	return nil
}

func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.release()
	return nil
}

func (t *Tx) GetContext(context.Context, interface{}, string, ...interface{}) error { return errNoSQL }
func (t *Tx) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}
func (t *Tx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (t *Tx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

// Seeding for data owned by other subsystems.

func (s *Store) PutCircle(c domain.Circle) {
	s.mutate(func(st *state) { st.circles[c.ID] = &c })
}

func (s *Store) PutCycle(c domain.Cycle) {
	s.mutate(func(st *state) { st.cycles[c.ID] = &c })
}

func (s *Store) PutMembership(m domain.Membership) {
	s.mutate(func(st *state) { st.members[memberKey{m.CircleID, m.UserID}] = &m })
}

func (s *Store) RecordContribution(cycleID, userID uuid.UUID, amount int64) {
	s.mutate(func(st *state) {
		if st.contributions[cycleID] == nil {
			st.contributions[cycleID] = map[uuid.UUID]int64{}
		}
		st.contributions[cycleID][userID] = amount
	})
}

func (s *Store) SetIdentity(userID uuid.UUID, verified bool) {
	s.mutate(func(st *state) {
		status := domain.IdentityStatus{Verified: verified}
		if verified {
			now := time.Now().UTC()
			status.VerifiedAt = &now
		}
		st.identities[userID] = status
	})
}

func (s *Store) AddRestriction(userID uuid.UUID, restrictionType string) {
	s.mutate(func(st *state) { st.restrictions[userID] = append(st.restrictions[userID], restrictionType) })
}

func (s *Store) AddUnresolvedDefault(userID uuid.UUID) {
	s.mutate(func(st *state) { st.defaults[userID]++ })
}

func (s *Store) SetCustodialBalance(accountID string, cleared int64) {
	s.mutate(func(st *state) { st.custodial[accountID] = cleared })
}

func (s *Store) AddRemittanceRecipient(r domain.RemittanceRecipient) {
	s.mutate(func(st *state) { st.remittance[r.UserID] = append(st.remittance[r.UserID], r) })
}

func (s *Store) mutate(fn func(st *state)) {
	_ = s.update(context.Background(), nil, func(st *state) error {
		fn(st)
		return nil
	})
}
