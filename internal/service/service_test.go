package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/config"
	"github.com/mmeshcher/pointsgate/internal/gateway"
	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	balance    int64
	balanceErr error

	pkg    *model.Package
	pkgErr error

	createdPayments []*model.Payment
	createPayErr    error

	externalTxSet string

	paymentByID    *model.Payment
	paymentByIDErr error

	paymentByTx    *model.Payment
	paymentByTxErr error

	hasPurchase    bool
	hasPurchaseErr error

	recentManual    bool
	recentManualErr error

	settleCalls   int
	settleFrom    model.PaymentStatus
	settleBalance int64
	settleErr     error

	failCalls int
	failErr   error

	refundCalls  int
	refundDeduct int64
	refundErr    error

	debitResult *repository.DebitResult
	debitErr    error

	downloads    []model.Download
	downloadsErr error

	auditRecords []*model.AuditRecord
	adminBalance int64
	adminErr     error

	stalePayments []model.Payment
	staleErr      error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) GetPackage(ctx context.Context, packageID string) (*model.Package, error) {
	return s.pkg, s.pkgErr
}

func (s *stubRepo) CreatePayment(ctx context.Context, p *model.Payment) error {
	if s.createPayErr != nil {
		return s.createPayErr
	}
	s.createdPayments = append(s.createdPayments, p)
	return nil
}

func (s *stubRepo) SetPaymentExternalTx(ctx context.Context, paymentID, externalTxID string) error {
	s.externalTxSet = externalTxID
	return nil
}

func (s *stubRepo) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	return s.paymentByID, s.paymentByIDErr
}

func (s *stubRepo) GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*model.Payment, error) {
	return s.paymentByTx, s.paymentByTxErr
}

func (s *stubRepo) HasCompletedPurchase(ctx context.Context, userID int64) (bool, error) {
	return s.hasPurchase, s.hasPurchaseErr
}

func (s *stubRepo) HasRecentPendingManual(ctx context.Context, userID int64, since time.Time) (bool, error) {
	return s.recentManual, s.recentManualErr
}

func (s *stubRepo) SettlePayment(ctx context.Context, paymentID string, from model.PaymentStatus) (int64, error) {
	s.settleCalls++
	s.settleFrom = from
	return s.settleBalance, s.settleErr
}

func (s *stubRepo) FailPayment(ctx context.Context, paymentID string) error {
	s.failCalls++
	return s.failErr
}

func (s *stubRepo) RefundPayment(ctx context.Context, paymentID string, deductPoints int64) error {
	s.refundCalls++
	s.refundDeduct = deductPoints
	return s.refundErr
}

func (s *stubRepo) DebitDownload(ctx context.Context, userID, resourceID int64) (*repository.DebitResult, error) {
	return s.debitResult, s.debitErr
}

func (s *stubRepo) GetDownloadsByUser(ctx context.Context, userID int64) ([]model.Download, error) {
	return s.downloads, s.downloadsErr
}

func (s *stubRepo) AdminCredit(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	if s.adminErr != nil {
		return 0, s.adminErr
	}
	s.auditRecords = append(s.auditRecords, rec)
	return s.adminBalance, nil
}

func (s *stubRepo) AdminDebit(ctx context.Context, rec *model.AuditRecord) (int64, error) {
	if s.adminErr != nil {
		return 0, s.adminErr
	}
	s.auditRecords = append(s.auditRecords, rec)
	return s.adminBalance, nil
}

func (s *stubRepo) GetStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]model.Payment, error) {
	return s.stalePayments, s.staleErr
}

type stubGateway struct {
	charge    *gateway.Charge
	chargeErr error

	refundErr error

	status    *gateway.ChargeStatus
	statusErr error
}

func (g *stubGateway) CreateCharge(ctx context.Context, orderID string, amountYuan float64, method, subject string) (*gateway.Charge, error) {
	return g.charge, g.chargeErr
}

func (g *stubGateway) CreateRefund(ctx context.Context, txID string, amountYuan float64) error {
	return g.refundErr
}

func (g *stubGateway) GetChargeStatus(ctx context.Context, txID string) (*gateway.ChargeStatus, error) {
	return g.status, g.statusErr
}

func testConfig() *config.Config {
	return &config.Config{
		GatewaySecret:             "test-secret",
		AdminUserIDs:              []int64{99},
		ManualChannels:            []string{"alipay", "wechat"},
		ManualCooldown:            10 * time.Minute,
		ConfirmTimeout:            5 * time.Second,
		CreditCeiling:             100000,
		SupportContact:            "support@pointsgate.example",
		FirstPurchaseBonusPercent: 30,
	}
}

func newTestService(repo Repository, gw GatewayClient) *Service {
	return NewService(repo, gw, testConfig(), zap.NewNop())
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := newTestService(repo, nil)

	_, err := svc.RegisterUser(context.Background(), "login", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
		},
	}
	svc := newTestService(repo, nil)

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestInitiatePayment_FirstPurchaseBonus(t *testing.T) {
	repo := &stubRepo{
		pkg:         &model.Package{ID: "standard", PriceCents: 4990, Points: 550},
		hasPurchase: false,
	}
	gw := &stubGateway{
		charge: &gateway.Charge{TxID: "tx-1", PayURL: "https://pay.example/tx-1"},
	}
	svc := newTestService(repo, gw)

	res, err := svc.InitiatePayment(context.Background(), 1, "standard", "alipay")
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if res.BonusPoints != 165 {
		t.Fatalf("BonusPoints = %d, want 165 (30%% of 550)", res.BonusPoints)
	}
	if res.Amount != 49.9 {
		t.Fatalf("Amount = %v, want 49.9", res.Amount)
	}
	if repo.externalTxSet != "tx-1" {
		t.Fatalf("external tx id = %q, want tx-1", repo.externalTxSet)
	}
}

func TestInitiatePayment_NoBonusAfterFirstPurchase(t *testing.T) {
	repo := &stubRepo{
		pkg:         &model.Package{ID: "starter", PriceCents: 990, Points: 100},
		hasPurchase: true,
	}
	gw := &stubGateway{
		charge: &gateway.Charge{TxID: "tx-2", QRURL: "https://qr.example/tx-2"},
	}
	svc := newTestService(repo, gw)

	res, err := svc.InitiatePayment(context.Background(), 1, "starter", "wechat")
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if res.BonusPoints != 0 {
		t.Fatalf("BonusPoints = %d, want 0 for repeat purchase", res.BonusPoints)
	}
}

func TestInitiatePayment_GatewayErrorFailsOrder(t *testing.T) {
	repo := &stubRepo{
		pkg: &model.Package{ID: "starter", PriceCents: 990, Points: 100},
	}
	gw := &stubGateway{
		chargeErr: errors.New("gateway unavailable"),
	}
	svc := newTestService(repo, gw)

	_, err := svc.InitiatePayment(context.Background(), 1, "starter", "alipay")
	if err == nil {
		t.Fatalf("expected error when gateway is unavailable")
	}
	if repo.failCalls != 1 {
		t.Fatalf("failCalls = %d, want 1: the order must be closed", repo.failCalls)
	}
}

func TestInitiatePayment_NoGatewayConfigured(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	_, err := svc.InitiatePayment(context.Background(), 1, "starter", "alipay")
	if err == nil {
		t.Fatalf("expected error without configured gateway")
	}
}

func TestInitiateManualPayment_DisabledChannel(t *testing.T) {
	svc := newTestService(&stubRepo{}, nil)

	_, err := svc.InitiateManualPayment(context.Background(), 1, "starter", "paypal")
	if !errors.Is(err, ErrChannelDisabled) {
		t.Fatalf("expected ErrChannelDisabled, got %v", err)
	}
}

func TestInitiateManualPayment_CooldownRejectsRepeat(t *testing.T) {
	repo := &stubRepo{
		recentManual: true,
	}
	svc := newTestService(repo, nil)

	_, err := svc.InitiateManualPayment(context.Background(), 1, "starter", "alipay")
	if !errors.Is(err, ErrPendingManualExists) {
		t.Fatalf("expected ErrPendingManualExists, got %v", err)
	}
	if len(repo.createdPayments) != 0 {
		t.Fatalf("no order must be created during cooldown")
	}
}

func TestInitiateManualPayment_CreatesPendingManualOrder(t *testing.T) {
	repo := &stubRepo{
		pkg: &model.Package{ID: "premium", PriceCents: 9900, Points: 1200},
	}
	svc := newTestService(repo, nil)

	res, err := svc.InitiateManualPayment(context.Background(), 1, "premium", "wechat")
	if err != nil {
		t.Fatalf("InitiateManualPayment error: %v", err)
	}
	if len(repo.createdPayments) != 1 {
		t.Fatalf("created %d payments, want 1", len(repo.createdPayments))
	}

	p := repo.createdPayments[0]
	if p.Status != model.PaymentStatusPendingManual {
		t.Fatalf("status = %s, want PENDING_MANUAL", p.Status)
	}
	if p.Method != model.PaymentMethodManual {
		t.Fatalf("method = %s, want MANUAL", p.Method)
	}
	if res.Instructions == "" || res.QRImageRef == "" {
		t.Fatalf("instructions and QR reference must be filled: %+v", res)
	}
}

func TestConfirmManualPayment_NotOperator(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, nil)

	_, err := svc.ConfirmManualPayment(context.Background(), "order-1", 7)
	if !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("settle must not be called for non-operator")
	}
}

func TestConfirmManualPayment_SettlesFromPendingManual(t *testing.T) {
	repo := &stubRepo{
		settleBalance: 1200,
	}
	svc := newTestService(repo, nil)

	newBalance, err := svc.ConfirmManualPayment(context.Background(), "order-1", 99)
	if err != nil {
		t.Fatalf("ConfirmManualPayment error: %v", err)
	}
	if newBalance != 1200 {
		t.Fatalf("newBalance = %d, want 1200", newBalance)
	}
	if repo.settleFrom != model.PaymentStatusPendingManual {
		t.Fatalf("settle from = %s, want PENDING_MANUAL", repo.settleFrom)
	}
}

func TestConfirmManualPayment_PropagatesConflict(t *testing.T) {
	repo := &stubRepo{
		settleErr: repository.ErrAlreadySettled,
	}
	svc := newTestService(repo, nil)

	_, err := svc.ConfirmManualPayment(context.Background(), "order-1", 99)
	if !errors.Is(err, repository.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestGetPaymentStatus_ForeignOrderLooksMissing(t *testing.T) {
	repo := &stubRepo{
		paymentByID: &model.Payment{ID: "order-1", UserID: 2, Status: model.PaymentStatusCompleted},
	}
	svc := newTestService(repo, nil)

	_, err := svc.GetPaymentStatus(context.Background(), "order-1", 1)
	if !errors.Is(err, repository.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound for foreign order, got %v", err)
	}
}

func TestGetPaymentStatus_Flags(t *testing.T) {
	repo := &stubRepo{
		paymentByID: &model.Payment{ID: "order-1", UserID: 1, Status: model.PaymentStatusPendingManual},
	}
	svc := newTestService(repo, nil)

	st, err := svc.GetPaymentStatus(context.Background(), "order-1", 1)
	if err != nil {
		t.Fatalf("GetPaymentStatus error: %v", err)
	}
	if !st.Pending || st.Paid || st.Failed || st.Refunded {
		t.Fatalf("unexpected status flags: %+v", st)
	}
}

func TestAdminCreditPoints_Validation(t *testing.T) {
	repo := &stubRepo{adminBalance: 500}
	svc := newTestService(repo, nil)

	if _, err := svc.AdminCreditPoints(context.Background(), 7, 1, 100, "promo", ""); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if _, err := svc.AdminCreditPoints(context.Background(), 99, 1, 0, "promo", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if _, err := svc.AdminCreditPoints(context.Background(), 99, 1, 100001, "promo", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount above ceiling, got %v", err)
	}

	balance, err := svc.AdminCreditPoints(context.Background(), 99, 1, 100, "promo", "spring")
	if err != nil {
		t.Fatalf("AdminCreditPoints error: %v", err)
	}
	if balance != 500 {
		t.Fatalf("balance = %d, want 500", balance)
	}
	if len(repo.auditRecords) != 1 {
		t.Fatalf("audit records = %d, want 1", len(repo.auditRecords))
	}

	rec := repo.auditRecords[0]
	if rec.Action != model.AuditActionCredit || rec.Campaign != "spring" || rec.OperatorID != 99 {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
}

func TestAdminDebitPoints_Validation(t *testing.T) {
	repo := &stubRepo{adminBalance: 10}
	svc := newTestService(repo, nil)

	if _, err := svc.AdminDebitPoints(context.Background(), 99, 1, -5, "fraud"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}

	if _, err := svc.AdminDebitPoints(context.Background(), 99, 1, 5, "fraud"); err != nil {
		t.Fatalf("AdminDebitPoints error: %v", err)
	}
	if len(repo.auditRecords) != 1 || repo.auditRecords[0].Action != model.AuditActionDebit {
		t.Fatalf("unexpected audit records: %+v", repo.auditRecords)
	}
}
