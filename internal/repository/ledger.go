package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/pointsgate/internal/model"
)

// DebitStatus описывает исход атомарного списания за скачивание.
type DebitStatus int

const (
	// DebitUnlocked — ресурс разблокирован, баллы списаны.
	DebitUnlocked DebitStatus = iota
	// DebitAlreadyUnlocked — ресурс был разблокирован ранее, повторного списания нет.
	DebitAlreadyUnlocked
	// DebitInsufficient — баллов недостаточно, состояние не изменено.
	DebitInsufficient
)

// DebitResult — типизированный исход списания: вызывающая сторона ветвится
// по данным, а не по кодам ошибок хранилища.
type DebitResult struct {
	Status     DebitStatus
	PayloadRef string
	Balance    int64
	Required   int64
	Current    int64
}

// CreatePayment сохраняет новый платёжный ордер.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	var externalTxID *string
	if p.ExternalTxID != "" {
		externalTxID = &p.ExternalTxID
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, user_id, amount_cents, points, bonus_points, method, channel, status, external_tx_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.AmountCents, p.Points, p.BonusPoints, string(p.Method), p.Channel, string(p.Status), externalTxID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrPaymentConflict, p.ID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p            model.Payment
		method       string
		status       string
		externalTxID *string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.AmountCents, &p.Points, &p.BonusPoints,
		&method, &p.Channel, &status, &externalTxID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	if externalTxID != nil {
		p.ExternalTxID = *externalTxID
	}
	return &p, nil
}

const paymentColumns = `id, user_id, amount_cents, points, bonus_points, method, channel, status, external_tx_id, created_at, updated_at`

// GetPaymentByID возвращает платёжный ордер по его идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
}

// GetPaymentByExternalTxID возвращает ордер по внешнему идентификатору транзакции —
// ключу идемпотентности вебхуков.
func (r *PostgresRepository) GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_tx_id = $1`, externalTxID))
}

// SetPaymentExternalTx привязывает к ордеру идентификатор транзакции шлюза —
// ключ идемпотентности для последующих вебхуков.
func (r *PostgresRepository) SetPaymentExternalTx(ctx context.Context, paymentID, externalTxID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET external_tx_id = $2, updated_at = now() WHERE id = $1`,
		paymentID, externalTxID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: tx %s", ErrPaymentConflict, externalTxID)
		}
		return fmt.Errorf("set external tx: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// HasCompletedPurchase сообщает, есть ли у пользователя завершённая неподарочная покупка.
func (r *PostgresRepository) HasCompletedPurchase(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM payments
		    WHERE user_id = $1 AND status = $2 AND method <> $3
		 )`,
		userID, string(model.PaymentStatusCompleted), string(model.PaymentMethodGift),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed purchase: %w", err)
	}
	return exists, nil
}

// HasRecentPendingManual сообщает, есть ли у пользователя незакрытая ручная заявка
// моложе указанного момента. Проверка по временному окну — подавление повторов,
// а не гарантия уникальности.
func (r *PostgresRepository) HasRecentPendingManual(ctx context.Context, userID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM payments
		    WHERE user_id = $1 AND status = $2 AND created_at > $3
		 )`,
		userID, string(model.PaymentStatusPendingManual), since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending manual: %w", err)
	}
	return exists, nil
}

// SettlePayment атомарно переводит ордер из статуса from в COMPLETED и
// начисляет баллы с бонусом. Строка ордера блокируется, поэтому параллельные
// попытки провести один ордер сериализуются: эффект начисления срабатывает
// не более одного раза. Возвращает новый баланс.
func (r *PostgresRepository) SettlePayment(ctx context.Context, paymentID string, from model.PaymentStatus) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			userID int64
			points int64
			bonus  int64
			status string
		)
		err = tx.QueryRow(ctx,
			`SELECT user_id, points, bonus_points, status FROM payments WHERE id = $1 FOR UPDATE`,
			paymentID,
		).Scan(&userID, &points, &bonus, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		switch model.PaymentStatus(status) {
		case from:
			// единственный допустимый переход
		case model.PaymentStatusCompleted:
			return ErrAlreadySettled
		default:
			return fmt.Errorf("%w: status %s", ErrPaymentConflict, status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`,
			paymentID, string(model.PaymentStatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			userID, points+bonus,
		).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})

	return newBalance, err
}

// FailPayment переводит ордер в FAILED без изменения баланса.
// Повторный перевод в FAILED — идемпотентный no-op.
func (r *PostgresRepository) FailPayment(ctx context.Context, paymentID string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT status FROM payments WHERE id = $1 FOR UPDATE`,
			paymentID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		if model.PaymentStatus(status) == model.PaymentStatusFailed {
			return nil
		}
		if model.PaymentStatus(status).Terminal() {
			return fmt.Errorf("%w: status %s", ErrPaymentConflict, status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`,
			paymentID, string(model.PaymentStatusFailed),
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// RefundPayment помечает завершённый ордер возвращённым и списывает указанное
// число баллов. Баланс не опускается ниже нуля.
func (r *PostgresRepository) RefundPayment(ctx context.Context, paymentID string, deductPoints int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			userID int64
			status string
		)
		err = tx.QueryRow(ctx,
			`SELECT user_id, status FROM payments WHERE id = $1 FOR UPDATE`,
			paymentID,
		).Scan(&userID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		if model.PaymentStatus(status) == model.PaymentStatusRefunded {
			return ErrAlreadySettled
		}
		if model.PaymentStatus(status) != model.PaymentStatusCompleted {
			return fmt.Errorf("%w: status %s", ErrPaymentConflict, status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`,
			paymentID, string(model.PaymentStatusRefunded),
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET balance = GREATEST(balance - $2, 0) WHERE id = $1`,
			userID, deductPoints,
		)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// DebitDownload выполняет атомарное списание за ресурс. Строка пользователя
// блокируется, списание, запись о скачивании и счётчик ресурса изменяются
// одной транзакцией. Проигрыш гонки вставки по уникальной паре
// (user, resource) откатывает списание и возвращает DebitAlreadyUnlocked.
func (r *PostgresRepository) DebitDownload(ctx context.Context, userID, resourceID int64) (*DebitResult, error) {
	var result *DebitResult

	err := r.withRetry(ctx, func(ctx context.Context) error {
		res, err := r.debitDownloadTx(ctx, userID, resourceID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) debitDownloadTx(ctx context.Context, userID, resourceID int64) (*DebitResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	var (
		costPoints int64
		payloadRef string
	)
	err = tx.QueryRow(ctx,
		`SELECT cost_points, payload_ref FROM resources WHERE id = $1`,
		resourceID,
	).Scan(&costPoints, &payloadRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}

	var charged int64
	err = tx.QueryRow(ctx,
		`SELECT points_charged FROM downloads WHERE user_id = $1 AND resource_id = $2`,
		userID, resourceID,
	).Scan(&charged)
	if err == nil {
		// повторный доступ к уже разблокированному ресурсу
		return &DebitResult{Status: DebitAlreadyUnlocked, PayloadRef: payloadRef, Balance: balance}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check download: %w", err)
	}

	if balance < costPoints {
		return &DebitResult{Status: DebitInsufficient, Required: costPoints, Current: balance}, nil
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1 RETURNING balance`,
		userID, costPoints,
	).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO downloads (user_id, resource_id, points_charged) VALUES ($1, $2, $3)`,
		userID, resourceID, costPoints,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// гонка с параллельным списанием той же пары: наш декремент
			// откатывается вместе с транзакцией, заряжен только победитель
			return &DebitResult{Status: DebitAlreadyUnlocked, PayloadRef: payloadRef, Balance: balance}, nil
		}
		return nil, fmt.Errorf("insert download: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE resources SET downloads = downloads + 1 WHERE id = $1`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("bump resource counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &DebitResult{Status: DebitUnlocked, PayloadRef: payloadRef, Balance: newBalance}, nil
}

// GetDownloadsByUser возвращает историю разблокировок пользователя.
func (r *PostgresRepository) GetDownloadsByUser(ctx context.Context, userID int64) ([]model.Download, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, resource_id, points_charged, created_at
		 FROM downloads
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select downloads: %w", err)
	}
	defer rows.Close()

	var res []model.Download
	for rows.Next() {
		var d model.Download
		if err := rows.Scan(&d.UserID, &d.ResourceID, &d.PointsCharged, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AdminCredit начисляет баллы пользователю и записывает аудит одной транзакцией.
// Повтор той же суммы по той же кампании отклоняется уникальным индексом.
func (r *PostgresRepository) AdminCredit(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO audit_records (operator_id, target_user_id, action, amount, reason, campaign)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.OperatorID, rec.TargetUserID, string(model.AuditActionCredit), rec.Amount, rec.Reason, rec.Campaign,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: campaign %s", ErrDuplicateGrant, rec.Campaign)
			}
			return fmt.Errorf("insert audit record: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			rec.TargetUserID, rec.Amount,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("credit balance: %w", err)
		}

		return tx.Commit(ctx)
	})

	return newBalance, err
}

// AdminDebit списывает баллы с проверкой достаточности баланса и записывает
// аудит одной транзакцией.
func (r *PostgresRepository) AdminDebit(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, rec.TargetUserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if balance < rec.Amount {
			return &InsufficientBalanceError{Required: rec.Amount, Current: balance}
		}

		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance - $2 WHERE id = $1 RETURNING balance`,
			rec.TargetUserID, rec.Amount,
		).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO audit_records (operator_id, target_user_id, action, amount, reason, campaign)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.OperatorID, rec.TargetUserID, string(model.AuditActionDebit), rec.Amount, rec.Reason, rec.Campaign,
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}

		return tx.Commit(ctx)
	})

	return newBalance, err
}

// GetStalePendingPayments возвращает шлюзовые ордера, ожидающие оплаты дольше
// указанного срока. Используется фоновой сверкой со шлюзом.
func (r *PostgresRepository) GetStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = $1 AND method = $2 AND created_at < now() - make_interval(secs => $3)
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.PaymentStatusPending), string(model.PaymentMethodGateway), olderThan.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
