package service

import (
	"context"

	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/repository"
)

// DebitDownload списывает баллы за ресурс и возвращает типизированный исход.
// Повторный запрос уже разблокированной пары (user, resource) возвращает
// payload без повторного списания.
func (s *Service) DebitDownload(ctx context.Context, userID, resourceID int64) (*repository.DebitResult, error) {
	return s.repo.DebitDownload(ctx, userID, resourceID)
}

// AdminCreditPoints начисляет баллы пользователю от имени оператора с записью
// аудита. Начисление с тегом кампании защищено от повторного применения.
func (s *Service) AdminCreditPoints(ctx context.Context, operatorID, targetUserID, amount int64, reason, campaign string) (int64, error) {
	if !s.cfg.IsAdmin(operatorID) {
		return 0, ErrNotOperator
	}
	if amount <= 0 || amount > s.cfg.CreditCeiling {
		return 0, ErrInvalidAmount
	}

	return s.repo.AdminCredit(ctx, &model.AuditRecord{
		OperatorID:   operatorID,
		TargetUserID: targetUserID,
		Action:       model.AuditActionCredit,
		Amount:       amount,
		Reason:       reason,
		Campaign:     campaign,
	})
}

// AdminDebitPoints списывает баллы пользователя от имени оператора с записью
// аудита. Списание сверх баланса отклоняется с числовым контекстом.
func (s *Service) AdminDebitPoints(ctx context.Context, operatorID, targetUserID, amount int64, reason string) (int64, error) {
	if !s.cfg.IsAdmin(operatorID) {
		return 0, ErrNotOperator
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	return s.repo.AdminDebit(ctx, &model.AuditRecord{
		OperatorID:   operatorID,
		TargetUserID: targetUserID,
		Action:       model.AuditActionDebit,
		Amount:       amount,
		Reason:       reason,
	})
}
