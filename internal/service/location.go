package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/ws"
)

// CorrelationResult lists the customer records touched by one location share.
type CorrelationResult struct {
	Phone     string
	Updated   []string
	CreatedID string
}

// LocationCorrelator attaches inbound location shares to customer records by
// phone number.
type LocationCorrelator struct {
	customers model.CustomerRepository
	audit     model.AuditRepository
	realtime  ws.RealtimePublisher
}

func NewLocationCorrelator(customers model.CustomerRepository, audit model.AuditRepository, realtime ws.RealtimePublisher) *LocationCorrelator {
	return &LocationCorrelator{
		customers: customers,
		audit:     audit,
		realtime:  realtime,
	}
}

func (c *LocationCorrelator) HandleLocation(ctx context.Context, key SessionKey, evt LocationEvent) error {
	res, err := c.Correlate(ctx, key, evt)
	if err != nil {
		return err
	}
	log.Info().
		Str("session", key.String()).
		Str("phone", res.Phone).
		Int("updated", len(res.Updated)).
		Bool("created", res.CreatedID != "").
		Msg("location correlated")
	return nil
}

// Correlate updates every customer of the session owner whose primary or
// secondary phone matches the sender. With no match, one customer is created.
// Each touched record gets one audit row.
func (c *LocationCorrelator) Correlate(ctx context.Context, key SessionKey, evt LocationEvent) (*CorrelationResult, error) {
	phone := helper.NormalizePhone(helper.ExtractPhoneFromJID(evt.From))
	if phone == "" {
		return nil, fmt.Errorf("location from %q: no usable phone number", evt.From)
	}
	res := &CorrelationResult{Phone: phone}

	customers, err := c.customers.FindWithPhones(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}

	loc := model.LocationUpdate{Latitude: evt.Latitude, Longitude: evt.Longitude, Label: evt.Label}

	var updateErrs []error
	for _, customer := range customers {
		if !matchesPhone(customer, phone) {
			continue
		}
		if err := c.customers.UpdateLocation(ctx, customer.ID, loc); err != nil {
			updateErrs = append(updateErrs, fmt.Errorf("customer %s: %w", customer.ID, err))
			continue
		}
		res.Updated = append(res.Updated, customer.ID)
		c.writeAudit(ctx, key, model.AuditActionLocationReceived, customer.ID, phone, evt)
	}

	if len(updateErrs) > 0 && len(res.Updated) == 0 {
		return nil, errors.Join(updateErrs...)
	}
	for _, err := range updateErrs {
		log.Error().Err(err).Str("phone", phone).Msg("failed to update customer location")
	}

	if len(res.Updated) == 0 && len(updateErrs) == 0 {
		name := evt.SenderName
		if name == "" {
			name = phone
		}
		created, err := c.customers.CreateFromLocation(ctx, model.CreateCustomerParams{
			UserID:    key.UserID,
			Name:      name,
			Phone:     phone,
			Latitude:  evt.Latitude,
			Longitude: evt.Longitude,
			Label:     evt.Label,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create customer: %w", err)
		}
		res.CreatedID = created.ID
		c.writeAudit(ctx, key, model.AuditActionCustomerCreated, created.ID, phone, evt)
	}

	c.publish(key, evt, res)
	return res, nil
}

func matchesPhone(customer model.Customer, phone string) bool {
	if customer.Phone.Valid && helper.SamePhone(customer.Phone.String, phone) {
		return true
	}
	return customer.SecondaryPhone.Valid && helper.SamePhone(customer.SecondaryPhone.String, phone)
}

func (c *LocationCorrelator) writeAudit(ctx context.Context, key SessionKey, action, customerID, phone string, evt LocationEvent) {
	if c.audit == nil {
		return
	}
	err := c.audit.Log(ctx, &model.AuditLog{
		UserID:       key.UserID,
		SessionID:    model.NullString(key.SessionID),
		Action:       action,
		ResourceType: model.NullString(model.AuditResourceCustomer),
		ResourceID:   model.NullString(customerID),
		Details: map[string]interface{}{
			"phone":     phone,
			"latitude":  evt.Latitude,
			"longitude": evt.Longitude,
			"label":     evt.Label,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("customer_id", customerID).Msg("failed to write audit log")
	}
}

func (c *LocationCorrelator) publish(key SessionKey, evt LocationEvent, res *CorrelationResult) {
	if c.realtime == nil {
		return
	}
	ids := res.Updated
	if res.CreatedID != "" {
		ids = []string{res.CreatedID}
	}
	c.realtime.Publish(ws.WsEvent{
		Event:     ws.EventLocationReceived,
		Timestamp: time.Now().UTC(),
		Data: ws.LocationReceivedData{
			UserID:      key.UserID,
			SessionID:   key.SessionID,
			Phone:       res.Phone,
			Latitude:    evt.Latitude,
			Longitude:   evt.Longitude,
			CustomerIDs: ids,
			Created:     res.CreatedID != "",
		},
	})
}
