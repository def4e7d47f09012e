package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avshalomt/event-seat-booking/internal/repository"
)

var (
	eventCols    = []string{"id", "name", "starts_at", "total_seats", "booked_seats", "is_retired"}
	categoryCols = []string{"id", "event_id", "name", "price_cents", "total_seats", "booked_seats"}
)

func TestAvailabilityGetCacheHit(t *testing.T) {
	rdb, rmock := redismock.NewClientMock()
	svc := NewAvailabilityService(rdb, nil, nil, 5*time.Second)

	cached := AvailabilitySnapshot{
		EventID:    1,
		TotalSeats: 100,
		Available:  60,
		AsOf:       time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	rmock.ExpectGet("avail:event:1").SetVal(string(raw))

	snap, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, cached, *snap)
	require.NoError(t, rmock.ExpectationsWereMet())
}

func TestAvailabilityGetCacheMissRecomputes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rdb, rmock := redismock.NewClientMock()
	svc := NewAvailabilityService(rdb, repository.NewEventRepo(db), repository.NewCategoryRepo(db), 5*time.Second)

	rmock.ExpectGet("avail:event:1").RedisNil()
	starts := time.Now().UTC().Add(48 * time.Hour)
	mock.ExpectQuery("FROM events WHERE id = \\?").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(1, "Launch Night", starts, 100, 40, false))
	mock.ExpectQuery("FROM ticket_categories WHERE event_id = \\?").
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(categoryCols).
			AddRow(10, 1, "Standard", 2500, 80, 40).
			AddRow(11, 1, "VIP", 9000, 20, 0))
	rmock.Regexp().ExpectSet("avail:event:1", `.*`, 5*time.Second).SetVal("OK")

	snap, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), snap.TotalSeats)
	assert.Equal(t, uint32(60), snap.Available)
	require.Len(t, snap.Categories, 2)
	assert.Equal(t, uint32(40), snap.Categories[0].Available)
	assert.Equal(t, uint32(20), snap.Categories[1].Available)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, rmock.ExpectationsWereMet())
}

func TestAvailabilityGetWithoutRedis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewAvailabilityService(nil, repository.NewEventRepo(db), repository.NewCategoryRepo(db), 5*time.Second)

	starts := time.Now().UTC().Add(time.Hour)
	mock.ExpectQuery("FROM events WHERE id = \\?").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(2, "Matinee", starts, 50, 50, false))
	mock.ExpectQuery("FROM ticket_categories WHERE event_id = \\?").
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(categoryCols))

	snap, err := svc.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), snap.Available)
	assert.Empty(t, snap.Categories)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityInvalidate(t *testing.T) {
	rdb, rmock := redismock.NewClientMock()
	svc := NewAvailabilityService(rdb, nil, nil, time.Second)

	rmock.ExpectDel("avail:event:7").SetVal(1)
	svc.Invalidate(context.Background(), 7)
	require.NoError(t, rmock.ExpectationsWereMet())

	// A nil client is a no-op, not a panic.
	NewAvailabilityService(nil, nil, nil, time.Second).Invalidate(context.Background(), 7)
}
