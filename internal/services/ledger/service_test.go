package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"autobox/internal/models"
	"autobox/internal/repositories"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repositories.Migrate(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, balance int64) *models.User {
	t.Helper()
	user := &models.User{
		Email:    "test@example.com",
		Password: "hashed",
		Name:     "Test User",
		Balance:  balance,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCredit(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 0)

	entry, err := svc.Credit(context.Background(), user.ID, 10000, models.TransactionTypeDeposit, nil, "deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), entry.Amount)
	assert.Equal(t, int64(10000), entry.BalanceAfter)

	balance, err := svc.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}

func TestCredit_InvalidAmount(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 0)

	for _, amount := range []int64{0, -500} {
		_, err := svc.Credit(context.Background(), user.ID, amount, models.TransactionTypeDeposit, nil, "deposit")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestCredit_UserNotFound(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	_, err := svc.Credit(context.Background(), 999, 1000, models.TransactionTypeDeposit, nil, "deposit")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 5000)

	_, err := svc.Debit(context.Background(), user.ID, 7000, models.TransactionTypeServicePayment, nil, "payment")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Failed debit leaves balance and ledger untouched
	balance, err := svc.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	entries, err := svc.GetTransactions(context.Background(), user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDebit(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 5000)

	entry, err := svc.Debit(context.Background(), user.ID, 3000, models.TransactionTypeServicePayment, nil, "payment")
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), entry.Amount)
	assert.Equal(t, int64(2000), entry.BalanceAfter)
}

// Balance must equal the sum of all ledger deltas after any sequence of
// operations, and replaying the deltas from zero must reproduce every
// snapshot.
func TestBalanceInvariant_RandomSequence(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 0)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		amount := int64(rng.Intn(5000) + 1)
		if rng.Intn(2) == 0 {
			_, err := svc.Credit(ctx, user.ID, amount, models.TransactionTypeDeposit, nil, "credit")
			require.NoError(t, err)
		} else {
			_, err := svc.Debit(ctx, user.ID, amount, models.TransactionTypeServicePayment, nil, "debit")
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}
	}

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)

	var entries []models.WalletTransaction
	require.NoError(t, db.Where("user_id = ?", user.ID).Order("id ASC").Find(&entries).Error)

	var running int64
	for _, entry := range entries {
		running += entry.Amount
		assert.Equal(t, running, entry.BalanceAfter, "snapshot mismatch at entry %d", entry.ID)
		assert.GreaterOrEqual(t, entry.BalanceAfter, int64(0))
	}
	assert.Equal(t, running, balance, "balance must equal the sum of ledger deltas")
}

func TestConcurrentOperations_Serialized(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 0)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := svc.Credit(ctx, user.ID, 100, models.TransactionTypeDeposit, nil, "concurrent credit")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker*100), balance)

	// Snapshots must form a strictly increasing sequence: no two
	// read-modify-write cycles may have interleaved.
	var entries []models.WalletTransaction
	require.NoError(t, db.Where("user_id = ?", user.ID).Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, workers*perWorker)
	for i, entry := range entries {
		assert.Equal(t, int64((i+1)*100), entry.BalanceAfter)
	}
}

func TestGetTransactions_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	user := createTestUser(t, db, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, user.ID, int64(1000*(i+1)), models.TransactionTypeDeposit, nil, "credit")
		require.NoError(t, err)
	}

	entries, err := svc.GetTransactions(ctx, user.ID, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(5000), entries[0].Amount)
	assert.Equal(t, int64(4000), entries[1].Amount)
	assert.Equal(t, int64(3000), entries[2].Amount)
}
