package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/i-aayush/whatif/internal/infrastructure/redis"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/models"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserRepo struct {
	mu          sync.Mutex
	balances    map[string]int64
	corrections int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{balances: map[string]int64{}}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[user.ID] = user.CreditsBalance
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &models.User{ID: id, CreditsBalance: balance}, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, pkgerrors.ErrUserNotFound
}

func (r *fakeUserRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	return balance, nil
}

func (r *fakeUserRepo) SetBalance(ctx context.Context, userID string, balance int64, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = balance
	r.corrections++
	return nil
}

type fakeTxRepo struct {
	mu           sync.Mutex
	users        *fakeUserRepo
	transactions []models.CreditTransaction
}

func (r *fakeTxRepo) Apply(ctx context.Context, tx *models.CreditTransaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !models.ValidType(tx.Type) {
		return pkgerrors.ErrInvalidTransactionType
	}
	if tx.Amount == 0 {
		return pkgerrors.ErrInvalidAmount
	}

	r.users.mu.Lock()
	balance, ok := r.users.balances[tx.UserID]
	if !ok {
		r.users.mu.Unlock()
		return pkgerrors.ErrUserNotFound
	}
	if tx.Amount < 0 && balance+tx.Amount < 0 {
		r.users.mu.Unlock()
		return pkgerrors.ErrInsufficientCredits
	}
	r.users.balances[tx.UserID] = balance + tx.Amount
	r.users.mu.Unlock()

	tx.ID = fmt.Sprintf("tx-%d", len(r.transactions)+1)
	tx.CreatedAt = time.Now().UTC()
	r.mu.Lock()
	r.transactions = append(r.transactions, *tx)
	r.mu.Unlock()
	return nil
}

func (r *fakeTxRepo) GetByID(ctx context.Context, id string) (*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, pkgerrors.ErrInvalidInput
}

func (r *fakeTxRepo) SumAmounts(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, tx := range r.transactions {
		if tx.UserID == userID {
			sum += tx.Amount
		}
	}
	return sum, nil
}

func (r *fakeTxRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CreditTransaction
	for _, tx := range r.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *fakeTxRepo) CountByRun(ctx context.Context, runID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, tx := range r.transactions {
		if tx.RunID == runID {
			count++
		}
	}
	return count, nil
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (c *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (c *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (c *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (c *fakeRedis) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeRedis) Close() error { return nil }

func newTestLedger() (ledger.Ledger, *fakeUserRepo, *fakeTxRepo, *fakeRedis) {
	users := newFakeUserRepo()
	txs := &fakeTxRepo{users: users}
	cache := newFakeRedis()
	return ledger.NewCreditLedger(users, txs, cache, nil), users, txs, cache
}

func TestLedgerDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		l, users, txs, _ := newTestLedger()
		users.balances["u1"] = 10

		tx, err := l.Debit(ctx, "u1", 3, "image generation", "run-1")
		require.NoError(t, err)
		assert.Equal(t, int64(-3), tx.Amount)
		assert.Equal(t, models.TypeUsage, tx.Type)
		assert.Equal(t, "run-1", tx.RunID)
		assert.Equal(t, int64(7), users.balances["u1"])
		assert.Len(t, txs.transactions, 1)
	})

	t.Run("InsufficientCredits", func(t *testing.T) {
		l, users, txs, _ := newTestLedger()
		users.balances["u1"] = 2

		tx, err := l.Debit(ctx, "u1", 5, "image generation", "run-1")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		assert.Nil(t, tx)
		assert.Empty(t, txs.transactions)
		assert.Equal(t, int64(2), users.balances["u1"])
	})

	t.Run("ExactBalanceAllowed", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 10

		_, err := l.Debit(ctx, "u1", 10, "image generation", "run-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), users.balances["u1"])
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 10

		_, err := l.Debit(ctx, "u1", 0, "noop", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		_, err = l.Debit(ctx, "u1", -4, "noop", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		l, _, _, _ := newTestLedger()
		_, err := l.Debit(ctx, "ghost", 1, "image generation", "")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}

func TestLedgerCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("Purchase", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 1

		tx, err := l.Credit(ctx, "u1", 100, models.TypePurchase, "pro package")
		require.NoError(t, err)
		assert.Equal(t, int64(100), tx.Amount)
		assert.Equal(t, int64(101), users.balances["u1"])
	})

	t.Run("UsageTypeRejected", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 1

		_, err := l.Credit(ctx, "u1", 5, models.TypeUsage, "oops")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionType)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		l, _, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "u1", 0, models.TypePurchase, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})
}

func TestLedgerRefund(t *testing.T) {
	ctx := context.Background()
	l, users, txs, _ := newTestLedger()
	users.balances["u1"] = 0

	tx, err := l.Refund(ctx, "u1", 7, "failed generation", "run-9")
	require.NoError(t, err)
	assert.Equal(t, models.TypeRefund, tx.Type)
	assert.Equal(t, "run-9", tx.RunID)
	assert.Equal(t, int64(7), users.balances["u1"])

	count, err := txs.CountByRun(ctx, "run-9")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLedgerBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("CacheHit", func(t *testing.T) {
		l, users, _, cache := newTestLedger()
		users.balances["u1"] = 10
		cache.values["user:u1:credits"] = "42"

		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("CacheMissReadsStoreAndCaches", func(t *testing.T) {
		l, users, _, cache := newTestLedger()
		users.balances["u1"] = 10

		balance, err := l.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance)
		assert.Equal(t, "10", cache.values["user:u1:credits"])
	})

	t.Run("DebitInvalidatesCache", func(t *testing.T) {
		l, users, _, cache := newTestLedger()
		users.balances["u1"] = 10
		cache.values["user:u1:credits"] = "10"

		_, err := l.Debit(ctx, "u1", 4, "image generation", "run-1")
		require.NoError(t, err)
		_, cached := cache.values["user:u1:credits"]
		assert.False(t, cached)
	})
}

func TestLedgerReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("BalanceMatchesLog", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 0
		_, err := l.Credit(ctx, "u1", 10, models.TypePurchase, "starter")
		require.NoError(t, err)
		_, err = l.Debit(ctx, "u1", 3, "image generation", "run-1")
		require.NoError(t, err)

		balance, corrected, err := l.Reconcile(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, corrected)
		assert.Equal(t, int64(7), balance)
	})

	t.Run("DivergenceCorrected", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 0
		_, err := l.Credit(ctx, "u1", 10, models.TypePurchase, "starter")
		require.NoError(t, err)

		// Drift the cached balance away from the log.
		users.balances["u1"] = 99

		balance, corrected, err := l.Reconcile(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, corrected)
		assert.Equal(t, int64(10), balance)
		assert.Equal(t, int64(10), users.balances["u1"])
		assert.Equal(t, 1, users.corrections)
	})

	t.Run("NegativeCachedBalanceRecomputedBeforeDebit", func(t *testing.T) {
		l, users, _, _ := newTestLedger()
		users.balances["u1"] = 0
		_, err := l.Credit(ctx, "u1", 10, models.TypePurchase, "starter")
		require.NoError(t, err)

		users.balances["u1"] = -5

		ok, err := l.HasSufficient(ctx, "u1", 8)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(10), users.balances["u1"])
	})
}

func TestLedgerBalanceEqualsLogAfterTraffic(t *testing.T) {
	ctx := context.Background()
	l, users, _, _ := newTestLedger()
	users.balances["u1"] = 0

	_, err := l.Credit(ctx, "u1", 50, models.TypePurchase, "starter")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 7, "image generation", "run-1")
	require.NoError(t, err)
	_, err = l.Refund(ctx, "u1", 7, "failed generation", "run-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 7, "image generation", "run-2")
	require.NoError(t, err)

	fromLog, err := l.BalanceFromLog(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(43), fromLog)
	assert.Equal(t, users.balances["u1"], fromLog)
}
