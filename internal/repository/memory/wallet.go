// internal/repository/memory/wallet.go
package memory

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
)

// WalletRepository implements repository.WalletRepository on a Store.
type WalletRepository struct{ s *Store }

func (s *Store) Wallets() repository.WalletRepository { return &WalletRepository{s} }

func (r *WalletRepository) CreateWallet(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.walletByUser[wallet.UserID]; ok {
			return fmt.Errorf("create wallet for user %s: %w", wallet.UserID, util.ErrDuplicateEntry)
		}
		c := *wallet
		st.wallets[c.ID] = &c
		st.walletByUser[c.UserID] = c.ID
		return nil
	})
}

func (r *WalletRepository) GetWalletByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.s.view(q, func(st *state) error {
		w, ok := st.wallets[id]
		if !ok {
			return util.ErrWalletNotFound
		}
		c := *w
		out = &c
		return nil
	})
	return out, err
}

func (r *WalletRepository) GetWalletByUserID(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.Wallet, error) {
	var id uuid.UUID
	err := r.s.view(q, func(st *state) error {
		wid, ok := st.walletByUser[userID]
		if !ok {
			return util.ErrWalletNotFound
		}
		id = wid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetWalletByID(ctx, q, id)
}

// GetWalletForUpdate needs no row lock: transactions are already serialized.
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetWalletByID(ctx, q, id)
}

func (r *WalletRepository) UpdateWalletBalances(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	if wallet.MainBalance < 0 || wallet.ReservedBalance < 0 || wallet.CommittedBalance < 0 {
		return fmt.Errorf("update balances for wallet %s: negative bucket: %w", wallet.ID, util.ErrInvalidState)
	}
	return r.s.update(ctx, q, func(st *state) error {
		w, ok := st.wallets[wallet.ID]
		if !ok {
			return util.ErrWalletNotFound
		}
		wallet.UpdatedAt = time.Now().UTC()
		w.MainBalance = wallet.MainBalance
		w.ReservedBalance = wallet.ReservedBalance
		w.CommittedBalance = wallet.CommittedBalance
		w.UpdatedAt = wallet.UpdatedAt
		return nil
	})
}

func (r *WalletRepository) UpdateWalletStatus(ctx context.Context, q repository.DBExecutor, id uuid.UUID, status domain.WalletStatus, reason *string) error {
	return r.s.update(ctx, q, func(st *state) error {
		w, ok := st.wallets[id]
		if !ok {
			return util.ErrWalletNotFound
		}
		w.Status = status
		w.StatusReason = reason
		w.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// TransactionRepository implements repository.TransactionRepository on a Store.
type TransactionRepository struct{ s *Store }

func (s *Store) Transactions() repository.TransactionRepository { return &TransactionRepository{s} }

func (r *TransactionRepository) CreateTransaction(ctx context.Context, q repository.DBExecutor, tx *domain.WalletTransaction) error {
	key := txRefKey{tx.ReferenceType, tx.ReferenceID, tx.Type, tx.BalanceType}
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.txRefs[key]; ok {
			return fmt.Errorf("create transaction %s/%s: %w", tx.ReferenceType, tx.ReferenceID, util.ErrDuplicateEntry)
		}
		st.txRefs[key] = struct{}{}
		st.transactions = append(st.transactions, *tx)
		return nil
	})
}

func (r *TransactionRepository) FindByReference(ctx context.Context, q repository.DBExecutor, refType, refID string, txType domain.TransactionType) ([]domain.WalletTransaction, error) {
	out := []domain.WalletTransaction{}
	err := r.s.view(q, func(st *state) error {
		for _, t := range st.transactions {
			if t.ReferenceType == refType && t.ReferenceID == refID && t.Type == txType {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

func (r *TransactionRepository) GetTransactionsByWalletID(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	var all []domain.WalletTransaction
	err := r.s.view(q, func(st *state) error {
		for _, t := range st.transactions {
			if t.WalletID == walletID {
				all = append(all, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first; the log is append-ordered
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	out := []domain.WalletTransaction{}
	if offset >= len(all) {
		return out, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append(out, all[offset:end]...), nil
}

func (r *TransactionRepository) CountTransactionsByWalletID(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.view(q, func(st *state) error {
		for _, t := range st.transactions {
			if t.WalletID == walletID {
				n++
			}
		}
		return nil
	})
	return n, err
}
