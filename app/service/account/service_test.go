package account

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "apiKey", "systemPrompt", "expiresAt", "createdAt", "updatedAt", "userId", "llm"}

func strPtr(s string) *string {
	return &s
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	return mock
}

func TestListActiveAccounts(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	created := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	expires := created.Add(30 * 24 * time.Hour)

	mock.ExpectQuery(`FROM "FanvueAccount"\s+WHERE "expiresAt" > NOW\(\)\s+ORDER BY "createdAt"`).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("acc-1", "key-1", strPtr("be sweet"), expires, created, created, strPtr("user-1"), strPtr("stheno-nsfw")).
			AddRow("acc-2", "key-2", nil, expires, created.Add(time.Hour), created, nil, nil))

	accounts, err := newService(mock).ListActiveAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "acc-1", accounts[0].ID)
	assert.Equal(t, "key-1", accounts[0].APIKey)
	assert.Equal(t, "be sweet", accounts[0].SystemPrompt)
	assert.Equal(t, "stheno-nsfw", accounts[0].Model)
	assert.Equal(t, "user-1", accounts[0].UserID)
	assert.Equal(t, expires, accounts[0].ExpiresAt)

	assert.Equal(t, "acc-2", accounts[1].ID)
	assert.Empty(t, accounts[1].SystemPrompt)
	assert.Empty(t, accounts[1].Model)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveAccountsQueryError(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery(`FROM "FanvueAccount"`).WillReturnError(errors.New("connection refused"))

	_, err := newService(mock).ListActiveAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetAccountByID(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`WHERE id = \$1 AND "expiresAt" > NOW\(\)`).
		WithArgs("acc-1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("acc-1", "key-1", strPtr("updated prompt"), now.Add(time.Hour), now, now, nil, strPtr("google/gemini-2.0-flash-001")))

	acc, err := newService(mock).GetAccountByID(context.Background(), "acc-1")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "updated prompt", acc.SystemPrompt)
	assert.Equal(t, "google/gemini-2.0-flash-001", acc.Model)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByIDMissing(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows(columns))

	acc, err := newService(mock).GetAccountByID(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestCloseIsIdempotent(t *testing.T) {
	mock := newMock(t)

	svc := newService(mock)
	svc.Close()
	require.NoError(t, svc.Shutdown())
}
