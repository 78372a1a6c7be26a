package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/ws"
)

type mockCustomerRepo struct {
	mock.Mock
}

func (m *mockCustomerRepo) FindWithPhones(ctx context.Context, userID string) ([]model.Customer, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Customer), args.Error(1)
}

func (m *mockCustomerRepo) UpdateLocation(ctx context.Context, id string, loc model.LocationUpdate) error {
	args := m.Called(ctx, id, loc)
	return args.Error(0)
}

func (m *mockCustomerRepo) CreateFromLocation(ctx context.Context, params model.CreateCustomerParams) (*model.Customer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func customer(id, phone, secondary string) model.Customer {
	return model.Customer{
		ID:             id,
		UserID:         "u1",
		Phone:          sql.NullString{String: phone, Valid: phone != ""},
		SecondaryPhone: sql.NullString{String: secondary, Valid: secondary != ""},
	}
}

var locationKey = SessionKey{UserID: "u1", SessionID: "default"}

func TestLocationCorrelator_Correlate(t *testing.T) {
	ctx := context.Background()
	evt := LocationEvent{
		From:       "972501234567:3@s.whatsapp.net",
		SenderName: "Dana",
		Latitude:   32.0853,
		Longitude:  34.7818,
		Label:      "Office",
	}
	loc := model.LocationUpdate{Latitude: 32.0853, Longitude: 34.7818, Label: "Office"}

	t.Run("updates every matching customer with one audit row each", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		audit := &fakeAuditRepo{}
		pub := &fakePublisher{}
		c := NewLocationCorrelator(repo, audit, pub)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{
			customer("c1", "050-123-4567", ""),
			customer("c2", "0529999999", "+972 50 123 4567"),
			customer("c3", "0521111111", ""),
		}, nil)
		repo.On("UpdateLocation", ctx, "c1", loc).Return(nil)
		repo.On("UpdateLocation", ctx, "c2", loc).Return(nil)

		res, err := c.Correlate(ctx, locationKey, evt)
		require.NoError(t, err)
		assert.Equal(t, "972501234567", res.Phone)
		assert.Equal(t, []string{"c1", "c2"}, res.Updated)
		assert.Empty(t, res.CreatedID)

		rows := audit.byAction(model.AuditActionLocationReceived)
		require.Len(t, rows, 2)
		assert.Equal(t, "c1", rows[0].ResourceID.String)
		assert.Equal(t, "c2", rows[1].ResourceID.String)
		assert.Equal(t, 1, pub.count(ws.EventLocationReceived))

		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "CreateFromLocation", mock.Anything, mock.Anything)
	})

	t.Run("creates a customer when nobody matches", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		audit := &fakeAuditRepo{}
		c := NewLocationCorrelator(repo, audit, nil)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{
			customer("c3", "0521111111", ""),
		}, nil)
		repo.On("CreateFromLocation", ctx, model.CreateCustomerParams{
			UserID:    "u1",
			Name:      "Dana",
			Phone:     "972501234567",
			Latitude:  32.0853,
			Longitude: 34.7818,
			Label:     "Office",
		}).Return(&model.Customer{ID: "new-1"}, nil)

		res, err := c.Correlate(ctx, locationKey, evt)
		require.NoError(t, err)
		assert.Equal(t, "new-1", res.CreatedID)
		assert.Empty(t, res.Updated)

		rows := audit.byAction(model.AuditActionCustomerCreated)
		require.Len(t, rows, 1)
		assert.Equal(t, "new-1", rows[0].ResourceID.String)
		repo.AssertExpectations(t)
	})

	t.Run("falls back to the phone as name", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		c := NewLocationCorrelator(repo, &fakeAuditRepo{}, nil)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{}, nil)
		repo.On("CreateFromLocation", ctx, mock.MatchedBy(func(p model.CreateCustomerParams) bool {
			return p.Name == "972501234567"
		})).Return(&model.Customer{ID: "new-2"}, nil)

		anonymous := evt
		anonymous.SenderName = ""
		_, err := c.Correlate(ctx, locationKey, anonymous)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("one failed update does not stop the others", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		audit := &fakeAuditRepo{}
		c := NewLocationCorrelator(repo, audit, nil)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{
			customer("c1", "0501234567", ""),
			customer("c2", "0501234567", ""),
		}, nil)
		repo.On("UpdateLocation", ctx, "c1", loc).Return(errors.New("row locked"))
		repo.On("UpdateLocation", ctx, "c2", loc).Return(nil)

		res, err := c.Correlate(ctx, locationKey, evt)
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, res.Updated)
		assert.Len(t, audit.byAction(model.AuditActionLocationReceived), 1)
		repo.AssertNotCalled(t, "CreateFromLocation", mock.Anything, mock.Anything)
	})

	t.Run("all updates failing is an error", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		c := NewLocationCorrelator(repo, &fakeAuditRepo{}, nil)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{
			customer("c1", "0501234567", ""),
		}, nil)
		repo.On("UpdateLocation", ctx, "c1", loc).Return(errors.New("row locked"))

		_, err := c.Correlate(ctx, locationKey, evt)
		assert.Error(t, err)
	})

	t.Run("lookup failure", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		c := NewLocationCorrelator(repo, &fakeAuditRepo{}, nil)

		repo.On("FindWithPhones", ctx, "u1").Return(nil, errors.New("db down"))

		err := c.HandleLocation(ctx, locationKey, evt)
		assert.Error(t, err)
	})

	t.Run("sender without digits is rejected", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		c := NewLocationCorrelator(repo, &fakeAuditRepo{}, nil)

		_, err := c.Correlate(ctx, locationKey, LocationEvent{From: "status@broadcast"})
		assert.Error(t, err)
		repo.AssertNotCalled(t, "FindWithPhones", mock.Anything, mock.Anything)
	})

	t.Run("audit failure is not fatal", func(t *testing.T) {
		repo := new(mockCustomerRepo)
		c := NewLocationCorrelator(repo, &fakeAuditRepo{err: errors.New("audit down")}, nil)

		repo.On("FindWithPhones", ctx, "u1").Return([]model.Customer{
			customer("c1", "0501234567", ""),
		}, nil)
		repo.On("UpdateLocation", ctx, "c1", loc).Return(nil)

		res, err := c.Correlate(ctx, locationKey, evt)
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, res.Updated)
	})
}
