package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/repository"
)

type WalletService struct {
	db          *gorm.DB
	walletRepo  *repository.WalletRepository
	accountRepo *repository.AccountRepository
}

func NewWalletService(
	db *gorm.DB,
	walletRepo *repository.WalletRepository,
	accountRepo *repository.AccountRepository,
) *WalletService {
	return &WalletService{
		db:          db,
		walletRepo:  walletRepo,
		accountRepo: accountRepo,
	}
}

// Balance 余额：已完成流水之和
func (s *WalletService) Balance(ctx context.Context, userID int64) (int64, error) {
	return s.walletRepo.Balance(ctx, userID)
}

// Available 可用余额：余额减去尚未结算的预留
func (s *WalletService) Available(ctx context.Context, userID int64) (int64, error) {
	available, err := s.walletRepo.Available(ctx, userID)
	if err != nil {
		return 0, err
	}
	if available < 0 {
		return 0, nil
	}
	return available, nil
}

// Reserve 预留不超过 min(amount, 可用余额) 的金额，返回实际预留数
func (s *WalletService) Reserve(ctx context.Context, userID, amount int64, ref string) (int64, error) {
	var reserved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accountRepo.WithTx(tx).Lock(ctx, userID); err != nil {
			return err
		}
		var err error
		reserved, err = s.reserveLocked(ctx, tx, userID, amount, ref)
		return err
	})
	return reserved, err
}

// reserveLocked 调用方需已持有账户锁
func (s *WalletService) reserveLocked(ctx context.Context, tx *gorm.DB, userID, amount int64, ref string) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	repo := s.walletRepo.WithTx(tx)
	available, err := repo.Available(ctx, userID)
	if err != nil {
		return 0, err
	}

	reserved := amount
	if available < reserved {
		reserved = available
	}
	if reserved <= 0 {
		return 0, nil
	}

	hold := &model.WalletTransaction{
		UserID:         userID,
		Type:           model.WalletTypePurchaseUse,
		Amount:         -reserved,
		Status:         model.WalletPending,
		TransactionRef: ref,
	}
	if err := repo.Create(ctx, hold); err != nil {
		return 0, err
	}
	return reserved, nil
}

// settleHold 将预留转为完成扣款；预留不存在或已结算时返回错误
func (s *WalletService) settleHold(ctx context.Context, tx *gorm.DB, userID int64, ref string) error {
	n, err := s.walletRepo.WithTx(tx).TransitionPending(ctx, userID, ref, model.WalletCompleted)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("wallet hold %s not pending", ref)
	}
	return nil
}

// releaseHold 释放预留，不存在时忽略
func (s *WalletService) releaseHold(ctx context.Context, tx *gorm.DB, userID int64, ref string) error {
	_, err := s.walletRepo.WithTx(tx).TransitionPending(ctx, userID, ref, model.WalletFailed)
	return err
}

// Release 释放预留
func (s *WalletService) Release(ctx context.Context, userID int64, ref string) error {
	return s.releaseHold(ctx, s.db, userID, ref)
}

// Record 追加一笔流水；修正通过新的反向流水完成
func (s *WalletService) Record(ctx context.Context, userID, amount int64, status, txType, ref string) (*model.WalletTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	switch status {
	case model.WalletPending, model.WalletCompleted, model.WalletFailed:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidAmount, status)
	}
	if txType == "" {
		txType = model.WalletTypeCredit
		if amount < 0 {
			txType = model.WalletTypePurchaseUse
		}
	}

	rec := &model.WalletTransaction{
		UserID:         userID,
		Type:           txType,
		Amount:         amount,
		Status:         status,
		TransactionRef: ref,
	}

	// 扣款不能超过可用余额
	if amount < 0 && status != model.WalletFailed {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.accountRepo.WithTx(tx).Lock(ctx, userID); err != nil {
				return err
			}
			available, err := s.walletRepo.WithTx(tx).Available(ctx, userID)
			if err != nil {
				return err
			}
			if available+amount < 0 {
				return fmt.Errorf("%w: debit %d exceeds available %d", ErrInvalidAmount, -amount, available)
			}
			return s.walletRepo.WithTx(tx).Create(ctx, rec)
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	if err := s.walletRepo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List 流水分页
func (s *WalletService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.walletRepo.ListByUser(ctx, userID, page, pageSize)
}
