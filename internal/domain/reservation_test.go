package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPassengerDetails_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		details PassengerDetails
		wantErr bool
	}{
		{name: "valid", details: PassengerDetails{Name: "Jane Doe", Email: "jane@example.com"}},
		{name: "valid with phone", details: PassengerDetails{Name: "Jane", Email: "jane@example.com", Phone: "+15550000000"}},
		{name: "empty name", details: PassengerDetails{Name: "  ", Email: "jane@example.com"}, wantErr: true},
		{name: "empty email", details: PassengerDetails{Name: "Jane"}, wantErr: true},
		{name: "malformed email", details: PassengerDetails{Name: "Jane", Email: "jane.example.com"}, wantErr: true},
		{name: "display name email", details: PassengerDetails{Name: "Jane", Email: "Jane <jane@example.com>"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.details.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHold_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	hold := NewHold(uuid.New(), []string{"1A"}, "u1", now, time.Minute)

	assert.False(t, hold.Expired(now))
	assert.False(t, hold.Expired(now.Add(59*time.Second)))
	assert.True(t, hold.Expired(now.Add(time.Minute)))
}

func TestNewReservation_Amount(t *testing.T) {
	now := time.Now()
	dep := Departure{ID: uuid.New(), Origin: "Lisbon", Destination: "Porto", PriceCents: 2000, Capacity: 4}
	hold := NewHold(dep.ID, []string{"1A", "1B"}, "u1", now, time.Minute)

	res := NewReservation(hold, dep, PassengerDetails{Name: "A", Email: "a@example.com"}, now)

	assert.Equal(t, int64(4000), res.AmountCents)
	assert.Equal(t, ReservationConfirmed, res.Status)
	assert.Equal(t, hold.ID, res.HoldID)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, []string{"1A", "1B"}, res.Seats)
}

func TestStorageFailure(t *testing.T) {
	cause := errors.New("connection reset")
	err := StorageFailure(cause)

	assert.True(t, errors.Is(err, ErrStorageFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, StorageFailure(nil))
}
