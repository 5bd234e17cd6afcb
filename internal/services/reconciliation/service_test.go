package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"autobox/internal/gateway/webpay"
	"autobox/internal/models"
	"autobox/internal/repositories"
	"autobox/internal/services/ledger"
	"autobox/internal/services/payment"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (*webpay.CreateResponse, error) {
	args := m.Called(ctx, buyOrder, sessionID, amount, returnURL)
	if resp := args.Get(0); resp != nil {
		return resp.(*webpay.CreateResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CommitTransaction(ctx context.Context, token string) (*webpay.TransactionResult, error) {
	args := m.Called(ctx, token)
	if resp := args.Get(0); resp != nil {
		return resp.(*webpay.TransactionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) GetStatus(ctx context.Context, token string) (*webpay.TransactionResult, error) {
	args := m.Called(ctx, token)
	if resp := args.Get(0); resp != nil {
		return resp.(*webpay.TransactionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, token string, amount int64) (*webpay.RefundResponse, error) {
	args := m.Called(ctx, token, amount)
	if resp := args.Get(0); resp != nil {
		return resp.(*webpay.RefundResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// countingNotifier records how many notifications were dispatched.
type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(_ context.Context, _ uint, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type testEnv struct {
	db       *gorm.DB
	gateway  *mockGateway
	ledger   *ledger.Service
	engine   *Service
	user     *models.User
	notifier *countingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repositories.Migrate(db))

	user := &models.User{Email: "buyer@example.com", Password: "hashed", Name: "Buyer"}
	require.NoError(t, db.Create(user).Error)

	gw := new(mockGateway)
	notifier := &countingNotifier{}
	ledgerSvc := ledger.NewService(db)
	engine := NewService(
		db,
		gw,
		ledgerSvc,
		payment.NewService(repositories.NewPaymentRepository(db)),
		repositories.NewGatewayTransactionRepository(db),
		repositories.NewUserRepository(db),
		notifier,
		Config{ReturnURL: "https://api.example/wallet/public/deposit/return"},
	)
	return &testEnv{db: db, gateway: gw, ledger: ledgerSvc, engine: engine, user: user, notifier: notifier}
}

// initDeposit seeds a pending payment + INITIALIZED gateway transaction.
func (e *testEnv) initDeposit(t *testing.T, amount int64, token string) *DepositSession {
	t.Helper()
	e.gateway.On("CreateTransaction", mock.Anything, mock.Anything, mock.Anything, amount, mock.Anything).
		Return(&webpay.CreateResponse{Token: token, URL: "https://webpay.example/init"}, nil).Once()

	session, err := e.engine.InitDeposit(context.Background(), e.user.ID, amount)
	require.NoError(t, err)
	return session
}

func authorizedResult(amount int64) *webpay.TransactionResult {
	return &webpay.TransactionResult{
		Status:            webpay.StatusAuthorized,
		ResponseCode:      0,
		Amount:            amount,
		AuthorizationCode: "1213",
		CardDetail:        webpay.CardDetail{CardNumber: "6623"},
	}
}

func TestInitDeposit(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-init")

	assert.Equal(t, "tok-init", session.Token)
	assert.Equal(t, "https://webpay.example/init", session.URL)

	var pmt models.Payment
	require.NoError(t, env.db.First(&pmt, session.PaymentID).Error)
	assert.Equal(t, models.PaymentStatusPending, pmt.Status)
	assert.Equal(t, models.PaymentMethodWebpay, pmt.Method)
	require.NotNil(t, pmt.IdempotencyKey)

	var gwTx models.GatewayTransaction
	require.NoError(t, env.db.Where("token = ?", "tok-init").First(&gwTx).Error)
	assert.Equal(t, models.GatewayStatusInitialized, gwTx.Status)
	assert.Equal(t, pmt.ID, gwTx.PaymentID)
	env.gateway.AssertExpectations(t)
}

func TestInitDeposit_GatewayRejection(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.On("CreateTransaction", mock.Anything, mock.Anything, mock.Anything, int64(10000), mock.Anything).
		Return(nil, &webpay.APIError{StatusCode: 422, Message: "Invalid amount"}).Once()

	_, err := env.engine.InitDeposit(context.Background(), env.user.ID, 10000)
	require.Error(t, err)

	// A rejected creation must not leave the intent pending
	var pmt models.Payment
	require.NoError(t, env.db.Order("id DESC").First(&pmt).Error)
	assert.Equal(t, models.PaymentStatusFailed, pmt.Status)
}

func TestInitDeposit_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.InitDeposit(context.Background(), 999, 10000)
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

// Back-to-back deposits by the same user must land on distinct intents,
// each with its own gateway transaction.
func TestInitDeposit_DistinctIntents(t *testing.T) {
	env := newTestEnv(t)
	first := env.initDeposit(t, 10000, "tok-a")
	second := env.initDeposit(t, 10000, "tok-b")

	assert.NotEqual(t, first.PaymentID, second.PaymentID)

	var paymentCount int64
	require.NoError(t, env.db.Model(&models.Payment{}).Count(&paymentCount).Error)
	assert.Equal(t, int64(2), paymentCount)

	for _, session := range []*DepositSession{first, second} {
		var gwCount int64
		require.NoError(t, env.db.Model(&models.GatewayTransaction{}).
			Where("payment_id = ?", session.PaymentID).Count(&gwCount).Error)
		assert.Equal(t, int64(1), gwCount)
	}
}

func TestConfirm_Authorized(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-1")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-1").
		Return(authorizedResult(10000), nil).Once()

	result, err := env.engine.Confirm(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)

	var entries []models.WalletTransaction
	require.NoError(t, env.db.Where("user_id = ?", env.user.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10000), entries[0].Amount)
	assert.Equal(t, int64(10000), entries[0].BalanceAfter)
	assert.Equal(t, models.TransactionTypeDeposit, entries[0].Type)
	require.NotNil(t, entries[0].ReferenceID)
	assert.Equal(t, session.PaymentID, *entries[0].ReferenceID)

	var gwTx models.GatewayTransaction
	require.NoError(t, env.db.Where("token = ?", "tok-1").First(&gwTx).Error)
	assert.Equal(t, models.GatewayStatusAuthorized, gwTx.Status)
	assert.Equal(t, "1213", gwTx.AuthorizationCode)
	env.gateway.AssertExpectations(t)
}

func TestConfirm_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.initDeposit(t, 10000, "tok-2")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-2").
		Return(&webpay.TransactionResult{Status: webpay.StatusFailed, ResponseCode: -1}, nil).Once()

	result, err := env.engine.Confirm(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.PaymentStatusFailed, result.Payment.Status)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestConfirm_SecondCallIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.initDeposit(t, 10000, "tok-3")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-3").
		Return(authorizedResult(10000), nil).Once()

	first, err := env.engine.Confirm(context.Background(), "tok-3")
	require.NoError(t, err)
	assert.True(t, first.Success)

	// The gateway must not be contacted again for a terminal payment
	second, err := env.engine.Confirm(context.Background(), "tok-3")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "payment already processed", second.Message)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance, "balance must only increase once")
	env.gateway.AssertExpectations(t)
}

func TestConfirm_ConflictRecoveredViaStatus(t *testing.T) {
	env := newTestEnv(t)
	env.initDeposit(t, 10000, "tok-4")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-4").
		Return(nil, webpay.ErrConflict).Once()
	env.gateway.On("GetStatus", mock.Anything, "tok-4").
		Return(authorizedResult(10000), nil).Once()

	result, err := env.engine.Confirm(context.Background(), "tok-4")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "payment successful (recovered)", result.Message)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
	env.gateway.AssertExpectations(t)
}

func TestConfirm_ConflictRecoveredRejected(t *testing.T) {
	env := newTestEnv(t)
	env.initDeposit(t, 10000, "tok-5")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-5").
		Return(nil, webpay.ErrConflict).Once()
	env.gateway.On("GetStatus", mock.Anything, "tok-5").
		Return(&webpay.TransactionResult{Status: webpay.StatusFailed, ResponseCode: -1}, nil).Once()

	result, err := env.engine.Confirm(context.Background(), "tok-5")
	require.NoError(t, err)
	assert.False(t, result.Success)

	var pmt models.Payment
	require.NoError(t, env.db.Order("id DESC").First(&pmt).Error)
	assert.Equal(t, models.PaymentStatusFailed, pmt.Status)
}

// Simulates the client-redirect and webhook both confirming the same
// token: exactly one ledger entry and one balance increment must result.
func TestConfirm_DoubleConfirmationRace(t *testing.T) {
	env := newTestEnv(t)
	env.initDeposit(t, 10000, "tok-race")

	// One caller wins the commit; the other sees the gateway conflict
	// and recovers through the status query.
	env.gateway.On("CommitTransaction", mock.Anything, "tok-race").
		Return(authorizedResult(10000), nil).Once()
	env.gateway.On("CommitTransaction", mock.Anything, "tok-race").
		Return(nil, webpay.ErrConflict).Once()
	env.gateway.On("GetStatus", mock.Anything, "tok-race").
		Return(authorizedResult(10000), nil).Maybe()

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := env.engine.Confirm(context.Background(), "tok-race")
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		require.NotNil(t, result)
		assert.True(t, result.Success)
	}

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance, "exactly one credit despite two confirmations")

	var count int64
	require.NoError(t, env.db.Model(&models.WalletTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Only the confirmation that performed the credit notifies
	require.Eventually(t, func() bool { return env.notifier.total() >= 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.notifier.total(), "one notification for one credit")
}

func TestConfirm_TimeoutLeavesPaymentPending(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-6")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-6").
		Return(nil, webpay.ErrTimeout).Once()

	_, err := env.engine.Confirm(context.Background(), "tok-6")
	require.Error(t, err)
	assert.ErrorIs(t, err, webpay.ErrTimeout)

	// Gateway state unknown: the intent stays pending for a retry
	var pmt models.Payment
	require.NoError(t, env.db.First(&pmt, session.PaymentID).Error)
	assert.Equal(t, models.PaymentStatusPending, pmt.Status)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestConfirm_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Confirm(context.Background(), "tok-missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefundDeposit(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-7")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-7").
		Return(authorizedResult(10000), nil).Once()
	_, err := env.engine.Confirm(context.Background(), "tok-7")
	require.NoError(t, err)

	env.gateway.On("Refund", mock.Anything, "tok-7", int64(10000)).
		Return(&webpay.RefundResponse{Type: "REVERSED", ResponseCode: 0}, nil).Once()

	result, err := env.engine.RefundDeposit(context.Background(), session.PaymentID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusRefunded, result.Payment.Status)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)

	var entries []models.WalletTransaction
	require.NoError(t, env.db.Where("user_id = ?", env.user.ID).Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, models.TransactionTypeRefund, entries[1].Type)
	assert.Equal(t, int64(-10000), entries[1].Amount)
	env.gateway.AssertExpectations(t)
}

func TestRefundDeposit_NotRefundable(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-8")

	// Still pending: nothing was captured, nothing to refund
	_, err := env.engine.RefundDeposit(context.Background(), session.PaymentID)
	assert.ErrorIs(t, err, ErrNotRefundable)
}

// A deposit whose funds were already spent cannot be refunded; the
// gateway must never be asked to move money the wallet cannot mirror.
func TestRefundDeposit_SpentBalance(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-9")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-9").
		Return(authorizedResult(10000), nil).Once()
	_, err := env.engine.Confirm(context.Background(), "tok-9")
	require.NoError(t, err)

	_, err = env.ledger.Debit(context.Background(), env.user.ID, 10000, models.TransactionTypeServicePayment, nil, "Box rental 7")
	require.NoError(t, err)

	_, err = env.engine.RefundDeposit(context.Background(), session.PaymentID)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	env.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)

	var pmt models.Payment
	require.NoError(t, env.db.First(&pmt, session.PaymentID).Error)
	assert.Equal(t, models.PaymentStatusCompleted, pmt.Status)

	var refundCount int64
	require.NoError(t, env.db.Model(&models.WalletTransaction{}).
		Where("type = ?", models.TransactionTypeRefund).Count(&refundCount).Error)
	assert.Zero(t, refundCount)
}

// A gateway decline rolls the wallet debit back.
func TestRefundDeposit_GatewayRejected(t *testing.T) {
	env := newTestEnv(t)
	session := env.initDeposit(t, 10000, "tok-10")

	env.gateway.On("CommitTransaction", mock.Anything, "tok-10").
		Return(authorizedResult(10000), nil).Once()
	_, err := env.engine.Confirm(context.Background(), "tok-10")
	require.NoError(t, err)

	env.gateway.On("Refund", mock.Anything, "tok-10", int64(10000)).
		Return(&webpay.RefundResponse{ResponseCode: 1}, nil).Once()

	result, err := env.engine.RefundDeposit(context.Background(), session.PaymentID)
	require.NoError(t, err)
	assert.False(t, result.Success)

	balance, err := env.ledger.GetBalance(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance, "debit rolled back with the decline")

	var pmt models.Payment
	require.NoError(t, env.db.First(&pmt, session.PaymentID).Error)
	assert.Equal(t, models.PaymentStatusCompleted, pmt.Status)
	env.gateway.AssertExpectations(t)
}
