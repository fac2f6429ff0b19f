package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/gateway"
	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/repository"
)

// HandleWebhook проверяет подпись уведомления шлюза и применяет его эффект.
// Обработчик идемпотентен: повторная доставка одного события не меняет
// состояние, поэтому шлюзу безопасно отвечать ретраибельной ошибкой при
// сбоях хранилища.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !gateway.VerifySignature([]byte(s.cfg.GatewaySecret), payload, signature) {
		return ErrBadSignature
	}

	event, err := gateway.ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	switch event.Type {
	case gateway.EventPaymentSuccess:
		return s.settleSuccess(ctx, event)
	case gateway.EventPaymentFailed:
		return s.settleFailure(ctx, event)
	case gateway.EventPaymentRefunded:
		return s.settleRefund(ctx, event)
	default:
		// неизвестные типы подтверждаются без эффектов, иначе шлюз будет
		// доставлять их вечно
		s.logger.Info("unknown webhook event acknowledged", zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) settleSuccess(ctx context.Context, event *gateway.Event) error {
	p, err := s.repo.GetPaymentByExternalTxID(ctx, event.TxID)
	if err != nil {
		return err
	}

	if math.Abs(event.Amount-yuan(p.AmountCents)) > amountEpsilon {
		s.logger.Warn("webhook amount mismatch",
			zap.String("orderID", p.ID),
			zap.Float64("notified", event.Amount),
			zap.Float64("stored", yuan(p.AmountCents)))
		return fmt.Errorf("%w: notified %.2f, stored %.2f", ErrAmountMismatch, event.Amount, yuan(p.AmountCents))
	}

	newBalance, err := s.repo.SettlePayment(ctx, p.ID, model.PaymentStatusPending)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			// повторная доставка: начисление уже произошло ровно один раз
			return nil
		}
		return err
	}

	s.logger.Info("payment settled",
		zap.String("orderID", p.ID),
		zap.Int64("points", p.Points+p.BonusPoints),
		zap.Int64("newBalance", newBalance))

	return nil
}

func (s *Service) settleFailure(ctx context.Context, event *gateway.Event) error {
	p, err := s.repo.GetPaymentByExternalTxID(ctx, event.TxID)
	if err != nil {
		return err
	}

	if err := s.repo.FailPayment(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrPaymentConflict) {
			// запоздавшее уведомление о сбое для проведённого ордера:
			// подтверждаем без эффектов
			s.logger.Warn("stale failure event acknowledged", zap.String("orderID", p.ID))
			return nil
		}
		return err
	}

	return nil
}

// settleRefund списывает баллы пропорционально возвращённой сумме:
// floor(refunded/original × начисленные баллы), не ниже нулевого баланса.
// Округление вниз: спорный балл остаётся у пользователя.
func (s *Service) settleRefund(ctx context.Context, event *gateway.Event) error {
	p, err := s.repo.GetPaymentByExternalTxID(ctx, event.TxID)
	if err != nil {
		return err
	}

	original := yuan(p.AmountCents)
	if original <= 0 || event.RefundAmount <= 0 {
		return fmt.Errorf("%w: refund %.2f of %.2f", ErrAmountMismatch, event.RefundAmount, original)
	}

	credited := p.Points + p.BonusPoints
	deduct := int64(math.Floor(event.RefundAmount / original * float64(credited)))

	if err := s.repo.RefundPayment(ctx, p.ID, deduct); err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			return nil
		}
		return err
	}

	s.logger.Info("payment refunded",
		zap.String("orderID", p.ID),
		zap.Float64("refundAmount", event.RefundAmount),
		zap.Int64("deductedPoints", deduct))

	return nil
}

// Параметры фоновой сверки зависших ордеров со шлюзом.
const (
	reconcileInterval  = time.Minute
	reconcileStaleAge  = 15 * time.Minute
	reconcileBatchSize = 100
)

// StartReconciliation запускает фоновую сверку зависших шлюзовых ордеров.
// Сверка проходит тем же идемпотентным путём, что и вебхуки, поэтому
// одновременная доставка вебхука и проход сверки безопасны.
func (s *Service) StartReconciliation(ctx context.Context) {
	if s.gatewayClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processReconcileBatch(ctx)
			}
		}
	}()
}

func (s *Service) processReconcileBatch(ctx context.Context) {
	payments, err := s.repo.GetStalePendingPayments(ctx, reconcileStaleAge, reconcileBatchSize)
	if err != nil {
		s.logger.Error("reconciliation: list stale payments", zap.Error(err))
		return
	}

	for _, p := range payments {
		if p.ExternalTxID == "" {
			continue
		}

		status, err := s.gatewayClient.GetChargeStatus(ctx, p.ExternalTxID)
		if err != nil {
			s.logger.Warn("reconciliation: gateway status unavailable",
				zap.Error(err), zap.String("orderID", p.ID), zap.String("txID", p.ExternalTxID))
			continue
		}

		switch status.Status {
		case gateway.ChargePaid:
			if math.Abs(status.Amount-yuan(p.AmountCents)) > amountEpsilon {
				s.logger.Warn("reconciliation: amount mismatch",
					zap.String("orderID", p.ID),
					zap.Float64("gateway", status.Amount),
					zap.Float64("stored", yuan(p.AmountCents)))
				continue
			}
			if _, err := s.repo.SettlePayment(ctx, p.ID, model.PaymentStatusPending); err != nil &&
				!errors.Is(err, repository.ErrAlreadySettled) {
				s.logger.Error("reconciliation: settle", zap.Error(err), zap.String("orderID", p.ID))
			}
		case gateway.ChargeClosed:
			if err := s.repo.FailPayment(ctx, p.ID); err != nil {
				s.logger.Error("reconciliation: fail", zap.Error(err), zap.String("orderID", p.ID))
			}
		}
	}
}
