package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/repository"
)

// InitiateResult — данные созданного шлюзового ордера для ответа клиенту.
type InitiateResult struct {
	OrderID     string
	Amount      float64
	Points      int64
	BonusPoints int64
	PayURL      string
	QRURL       string
}

// InitiatePayment создаёт платёжный ордер по пакету из серверного каталога и
// регистрирует платёж в шлюзе. Сумма и баллы берутся только из каталога.
// Вызов шлюза происходит строго после записи ордера и вне транзакций БД.
func (s *Service) InitiatePayment(ctx context.Context, userID int64, packageID, method string) (*InitiateResult, error) {
	if s.gatewayClient == nil {
		return nil, errors.New("payment gateway not configured")
	}

	pkg, err := s.repo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}

	bonus, err := s.bonusPoints(ctx, userID, pkg.Points)
	if err != nil {
		return nil, err
	}

	p := &model.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: pkg.PriceCents,
		Points:      pkg.Points,
		BonusPoints: bonus,
		Method:      model.PaymentMethodGateway,
		Status:      model.PaymentStatusPending,
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	charge, err := s.gatewayClient.CreateCharge(ctx, p.ID, yuan(pkg.PriceCents), method,
		fmt.Sprintf("points package %s", pkg.ID))
	if err != nil {
		// ордер закрывается: клиенту предлагается новая инициация,
		// а не повтор этого же ордера
		if failErr := s.repo.FailPayment(ctx, p.ID); failErr != nil {
			s.logger.Error("fail payment after gateway error",
				zap.Error(failErr), zap.String("orderID", p.ID))
		}
		return nil, fmt.Errorf("create charge: %w", err)
	}

	if err := s.repo.SetPaymentExternalTx(ctx, p.ID, charge.TxID); err != nil {
		return nil, err
	}

	return &InitiateResult{
		OrderID:     p.ID,
		Amount:      yuan(pkg.PriceCents),
		Points:      pkg.Points,
		BonusPoints: bonus,
		PayURL:      charge.PayURL,
		QRURL:       charge.QRURL,
	}, nil
}

// ManualResult — данные ручной заявки с инструкциями для пользователя.
type ManualResult struct {
	OrderID      string
	Amount       float64
	Points       int64
	BonusPoints  int64
	Instructions string
	QRImageRef   string
}

// InitiateManualPayment создаёт заявку на ручную оплату через указанный канал.
// Повторная заявка в окне подавления отклоняется; это эвристика по времени,
// а не гарантия уникальности.
func (s *Service) InitiateManualPayment(ctx context.Context, userID int64, packageID, channel string) (*ManualResult, error) {
	if !s.cfg.IsManualChannelEnabled(channel) {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, channel)
	}

	recent, err := s.repo.HasRecentPendingManual(ctx, userID, time.Now().Add(-s.cfg.ManualCooldown))
	if err != nil {
		return nil, err
	}
	if recent {
		return nil, ErrPendingManualExists
	}

	pkg, err := s.repo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}

	bonus, err := s.bonusPoints(ctx, userID, pkg.Points)
	if err != nil {
		return nil, err
	}

	p := &model.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: pkg.PriceCents,
		Points:      pkg.Points,
		BonusPoints: bonus,
		Method:      model.PaymentMethodManual,
		Channel:     channel,
		Status:      model.PaymentStatusPendingManual,
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	return &ManualResult{
		OrderID:     p.ID,
		Amount:      yuan(pkg.PriceCents),
		Points:      pkg.Points,
		BonusPoints: bonus,
		Instructions: fmt.Sprintf(
			"transfer %.2f via %s, then send order id %s to %s for confirmation",
			yuan(pkg.PriceCents), channel, p.ID, s.cfg.SupportContact),
		QRImageRef: fmt.Sprintf("/static/qr/%s.png", channel),
	}, nil
}

// ConfirmManualPayment подтверждает ручную заявку от имени оператора.
// Подтверждение выполняется одной транзакцией с явным таймаутом: две
// конкурентные попытки сериализуются, эффект начисления срабатывает один раз,
// проигравший получает конфликт.
func (s *Service) ConfirmManualPayment(ctx context.Context, orderID string, adminID int64) (int64, error) {
	if !s.cfg.IsAdmin(adminID) {
		return 0, ErrNotOperator
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	newBalance, err := s.repo.SettlePayment(ctx, orderID, model.PaymentStatusPendingManual)
	if err != nil {
		return 0, err
	}

	s.logger.Info("manual payment confirmed",
		zap.String("orderID", orderID), zap.Int64("adminID", adminID))

	return newBalance, nil
}

// PaymentStatus — статусные признаки ордера для клиента.
type PaymentStatus struct {
	Paid     bool
	Pending  bool
	Failed   bool
	Refunded bool
}

// GetPaymentStatus возвращает статус ордера его владельцу.
func (s *Service) GetPaymentStatus(ctx context.Context, orderID string, userID int64) (*PaymentStatus, error) {
	p, err := s.repo.GetPaymentByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		// чужой ордер неотличим от несуществующего
		return nil, repository.ErrPaymentNotFound
	}

	return &PaymentStatus{
		Paid:     p.Status == model.PaymentStatusCompleted,
		Pending:  p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusPendingManual,
		Failed:   p.Status == model.PaymentStatusFailed,
		Refunded: p.Status == model.PaymentStatusRefunded,
	}, nil
}
