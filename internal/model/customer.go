package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Customer is a backing record owned by a user. Phone fields are stored as
// entered; comparisons always go through helper.NormalizePhone.
type Customer struct {
	ID                string          `db:"id"`
	UserID            string          `db:"user_id"`
	Name              string          `db:"name"`
	Phone             sql.NullString  `db:"phone"`
	SecondaryPhone    sql.NullString  `db:"secondary_phone"`
	Latitude          sql.NullFloat64 `db:"latitude"`
	Longitude         sql.NullFloat64 `db:"longitude"`
	LocationLabel     sql.NullString  `db:"location_label"`
	LocationReceived  bool            `db:"location_received"`
	LocationUpdatedAt sql.NullTime    `db:"location_updated_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

type LocationUpdate struct {
	Latitude  float64
	Longitude float64
	Label     string
}

type CreateCustomerParams struct {
	UserID    string
	Name      string
	Phone     string
	Latitude  float64
	Longitude float64
	Label     string
}

type CustomerRepository interface {
	FindWithPhones(ctx context.Context, userID string) ([]Customer, error)
	UpdateLocation(ctx context.Context, id string, loc LocationUpdate) error
	CreateFromLocation(ctx context.Context, params CreateCustomerParams) (*Customer, error)
}

type customerRepo struct {
	db *sqlx.DB
}

func NewCustomerRepository(db *sqlx.DB) CustomerRepository {
	return &customerRepo{db: db}
}

func (r *customerRepo) FindWithPhones(ctx context.Context, userID string) ([]Customer, error) {
	var customers []Customer
	err := r.db.SelectContext(ctx, &customers, `
		SELECT * FROM customers
		WHERE user_id = $1
		AND (COALESCE(phone, '') <> '' OR COALESCE(secondary_phone, '') <> '')
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *customerRepo) UpdateLocation(ctx context.Context, id string, loc LocationUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE customers SET
			latitude = $2,
			longitude = $3,
			location_label = NULLIF($4, ''),
			location_received = true,
			location_updated_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`, id, loc.Latitude, loc.Longitude, loc.Label)
	return err
}

func (r *customerRepo) CreateFromLocation(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	var customer Customer
	err := r.db.GetContext(ctx, &customer, `
		INSERT INTO customers (
			id, user_id, name, phone, latitude, longitude, location_label,
			location_received, location_updated_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), true, NOW(), NOW(), NOW())
		RETURNING *
	`, uuid.NewString(), params.UserID, params.Name, params.Phone,
		params.Latitude, params.Longitude, params.Label)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}
