// Package service реализует бизнес-логику сервиса pointsgate.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/config"
	"github.com/mmeshcher/pointsgate/internal/gateway"
	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/repository"
)

// Ошибки бизнес-логики, транслируемые обработчиками в HTTP-статусы.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBadSignature возвращается при неверной или отсутствующей подписи вебхука.
	ErrBadSignature = errors.New("bad webhook signature")
	// ErrAmountMismatch возвращается при расхождении суммы уведомления с суммой ордера.
	ErrAmountMismatch = errors.New("amount verification failed")
	// ErrChannelDisabled возвращается для выключенного канала ручной оплаты.
	ErrChannelDisabled = errors.New("manual channel disabled")
	// ErrPendingManualExists возвращается при незакрытой ручной заявке в окне подавления.
	ErrPendingManualExists = errors.New("pending manual order already exists")
	// ErrNotOperator возвращается, если пользователь не входит в allow-list операторов.
	ErrNotOperator = errors.New("operator not allowed")
	// ErrInvalidAmount возвращается при сумме вне допустимого диапазона.
	ErrInvalidAmount = errors.New("amount out of range")
)

// amountEpsilon — допуск сравнения сумм в юанях: суммы на проводе имеют два
// десятичных знака, допуск покрывает только шум плавающей точки.
const amountEpsilon = 0.001

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetPackage(ctx context.Context, packageID string) (*model.Package, error)
	CreatePayment(ctx context.Context, p *model.Payment) error
	SetPaymentExternalTx(ctx context.Context, paymentID, externalTxID string) error
	GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error)
	GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*model.Payment, error)
	HasCompletedPurchase(ctx context.Context, userID int64) (bool, error)
	HasRecentPendingManual(ctx context.Context, userID int64, since time.Time) (bool, error)
	SettlePayment(ctx context.Context, paymentID string, from model.PaymentStatus) (int64, error)
	FailPayment(ctx context.Context, paymentID string) error
	RefundPayment(ctx context.Context, paymentID string, deductPoints int64) error
	DebitDownload(ctx context.Context, userID, resourceID int64) (*repository.DebitResult, error)
	GetDownloadsByUser(ctx context.Context, userID int64) ([]model.Download, error)
	AdminCredit(ctx context.Context, rec *model.AuditRecord) (int64, error)
	AdminDebit(ctx context.Context, rec *model.AuditRecord) (int64, error)
	GetStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]model.Payment, error)
}

// GatewayClient описывает контракт клиента платёжного шлюза.
type GatewayClient interface {
	CreateCharge(ctx context.Context, orderID string, amountYuan float64, method, subject string) (*gateway.Charge, error)
	CreateRefund(ctx context.Context, txID string, amountYuan float64) error
	GetChargeStatus(ctx context.Context, txID string) (*gateway.ChargeStatus, error)
}

// Service содержит бизнес-логику сервиса pointsgate.
type Service struct {
	repo          Repository
	gatewayClient GatewayClient
	cfg           *config.Config
	logger        *zap.Logger
}

// NewService создаёт сервис с указанным репозиторием и клиентом шлюза.
func NewService(repo Repository, gatewayClient GatewayClient, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		gatewayClient: gatewayClient,
		cfg:           cfg,
		logger:        logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetBalance возвращает баланс пользователя в баллах.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetDownloadsByUser возвращает историю разблокировок пользователя.
func (s *Service) GetDownloadsByUser(ctx context.Context, userID int64) ([]model.Download, error) {
	return s.repo.GetDownloadsByUser(ctx, userID)
}

// yuan переводит сумму из фэней (сотых долей) в юани.
func yuan(cents int64) float64 {
	return float64(cents) / 100
}

// bonusPoints возвращает бонус за первую покупку, если у пользователя ещё нет
// завершённых неподарочных платежей.
func (s *Service) bonusPoints(ctx context.Context, userID int64, points int64) (int64, error) {
	purchased, err := s.repo.HasCompletedPurchase(ctx, userID)
	if err != nil {
		return 0, err
	}
	if purchased {
		return 0, nil
	}
	return points * s.cfg.FirstPurchaseBonusPercent / 100, nil
}
