// Package model содержит доменные сущности сервиса pointsgate.
package model

import "time"

// User представляет пользователя платформы с балансом в баллах.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	Balance      int64
	CreatedAt    time.Time
}

// PaymentStatus описывает статус платёжного ордера.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPendingManual PaymentStatus = "PENDING_MANUAL"
	PaymentStatusCompleted     PaymentStatus = "COMPLETED"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
)

// Terminal сообщает, является ли статус конечным: из него нет переходов.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod описывает способ приобретения баллов.
type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "GATEWAY"
	PaymentMethodManual  PaymentMethod = "MANUAL"
	// PaymentMethodGift помечает подарочные начисления: они не считаются
	// покупкой при расчёте бонуса за первую покупку.
	PaymentMethodGift PaymentMethod = "GIFT"
)

// Payment описывает одну попытку приобретения баллов.
type Payment struct {
	ID           string
	UserID       int64
	AmountCents  int64
	Points       int64
	BonusPoints  int64
	Method       PaymentMethod
	Channel      string
	Status       PaymentStatus
	ExternalTxID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Package описывает пакет баллов из серверного каталога.
// Цена и количество баллов никогда не принимаются от клиента.
type Package struct {
	ID         string
	PriceCents int64
	Points     int64
}

// Download фиксирует факт разблокировки ресурса пользователем.
// Пара (UserID, ResourceID) уникальна, запись неизменяема.
type Download struct {
	UserID        int64
	ResourceID    int64
	PointsCharged int64
	CreatedAt     time.Time
}

// AuditAction описывает тип административной операции над балансом.
type AuditAction string

const (
	AuditActionCredit AuditAction = "ADMIN_CREDIT"
	AuditActionDebit  AuditAction = "ADMIN_DEBIT"
)

// AuditRecord фиксирует административное изменение баланса: кто, кому, сколько и почему.
type AuditRecord struct {
	ID           int64
	OperatorID   int64
	TargetUserID int64
	Action       AuditAction
	Amount       int64
	Reason       string
	Campaign     string
	CreatedAt    time.Time
}
