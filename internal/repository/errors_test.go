package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		in   error
		kind error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"bad conn", driver.ErrBadConn, ErrTransient},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"deadlock", &mysql.MySQLError{Number: 1213}, ErrTransient},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, ErrTransient},
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, ErrConflict},
		{"fk violation", &mysql.MySQLError{Number: 1452}, ErrValidation},
		{"check violation", &mysql.MySQLError{Number: 3819}, ErrValidation},
		{"unknown", errors.New("boom"), ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(tc.in)
			assert.True(t, errors.Is(mapped, tc.kind), "want kind %v, got %v", tc.kind, mapped)
			// The original cause stays reachable.
			assert.True(t, errors.Is(mapped, tc.in))
		})
	}
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, MapError(nil))
}

func TestMapErrorIdempotent(t *testing.T) {
	orig := NewSeatUnavailableError([]uint64{7})
	mapped := MapError(orig)
	assert.Same(t, error(orig), mapped, "already-classified errors pass through untouched")

	wrapped := &StoreError{Kind: ErrValidation, Err: errors.New("bad quantity")}
	assert.Same(t, error(wrapped), MapError(wrapped))
}

func TestSeatUnavailableError(t *testing.T) {
	err := NewSeatUnavailableError([]uint64{42, 7, 19})
	assert.Equal(t, []uint64{7, 19, 42}, err.SeatIDs, "IDs are sorted")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "seats unavailable: [7,19,42]", err.Error())

	var target *SeatUnavailableError
	require.True(t, errors.As(MapError(err), &target))
	assert.Equal(t, err.SeatIDs, target.SeatIDs)
}

func TestInsufficientInventoryError(t *testing.T) {
	err := &InsufficientInventoryError{CategoryID: 3, Requested: 2, Available: 1}
	assert.True(t, errors.Is(err, ErrInsufficientInventory))
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "requested 2, available 1")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&mysql.MySQLError{Number: 1213}))
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.False(t, IsTransient(sql.ErrNoRows))
	assert.False(t, IsTransient(NewSeatUnavailableError([]uint64{1})))
	assert.False(t, IsTransient(errors.New("boom")))
}
