// Package service implements the registration orchestrator: it owns the
// trigger state machine and is, together with the scheduler, the only writer
// of trigger status.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trigger-server/internal/catalog"
	"trigger-server/internal/connectors"
	"trigger-server/internal/metrics"
	"trigger-server/internal/observability"
	"trigger-server/internal/secrets"
	"trigger-server/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrUnknownApp rejects operations against an app with no connector.
	ErrUnknownApp = errors.New("unknown app")
	// ErrAccountMismatch rejects a linked account belonging to another app.
	ErrAccountMismatch = errors.New("linked account belongs to a different app")
	// ErrInvalidTransition rejects a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// renewalFailLimit is how many consecutive renewal failures a trigger
// survives before it is marked error. The counter persists across job runs
// in config, next to retry_count.
const renewalFailLimit = 3

// Service orchestrates trigger lifecycle against the provider connectors.
type Service struct {
	store           Store
	registry        *connectors.Registry
	sealer          *secrets.Sealer
	collector       *metrics.Collector
	callbackBaseURL string
	logger          *observability.Logger
}

// New creates the trigger service.
func New(st Store, registry *connectors.Registry, sealer *secrets.Sealer,
	collector *metrics.Collector, callbackBaseURL string, logger *observability.Logger) *Service {
	return &Service{
		store:           st,
		registry:        registry,
		sealer:          sealer,
		collector:       collector,
		callbackBaseURL: strings.TrimSuffix(callbackBaseURL, "/"),
		logger:          logger,
	}
}

// CreateTriggerRequest carries everything needed to create one trigger.
type CreateTriggerRequest struct {
	ProjectID       uuid.UUID
	AppName         string
	LinkedAccountID uuid.UUID
	TriggerName     string
	TriggerType     string
	Description     string
	Config          map[string]interface{}
}

// CreateTriggerResult is the outcome of Create. SetupInstructions is
// non-empty for providers that need manual configuration (Slack).
type CreateTriggerResult struct {
	Trigger           store.Trigger
	SetupInstructions string
}

// Create validates the request, persists the trigger in pending status and
// registers the remote subscription. A permanent registration failure rolls
// the row back; a transient one leaves the row in error status for the
// retry job.
func (s *Service) Create(ctx context.Context, req CreateTriggerRequest) (CreateTriggerResult, error) {
	if err := catalog.ValidateConfig(req.AppName, req.TriggerType, req.Config); err != nil {
		return CreateTriggerResult{}, err
	}

	connector, ok := s.registry.Get(req.AppName)
	if !ok {
		return CreateTriggerResult{}, fmt.Errorf("%w: %s", ErrUnknownApp, req.AppName)
	}

	account, err := s.resolveAccount(ctx, req.LinkedAccountID, req.AppName)
	if err != nil {
		return CreateTriggerResult{}, err
	}

	token, err := secrets.NewVerificationToken()
	if err != nil {
		return CreateTriggerResult{}, err
	}
	sealedToken, err := s.sealer.Seal(token)
	if err != nil {
		return CreateTriggerResult{}, fmt.Errorf("failed to seal verification token: %w", err)
	}

	// The webhook URL embeds the trigger id, so the id is minted here.
	triggerID := uuid.New()
	webhookURL := fmt.Sprintf("%s/webhooks/%s/%s",
		s.callbackBaseURL, strings.ToLower(req.AppName), triggerID)

	trigger, err := s.store.CreateTrigger(ctx, store.CreateTriggerParams{
		ID:                triggerID,
		ProjectID:         req.ProjectID,
		AppName:           req.AppName,
		LinkedAccountID:   req.LinkedAccountID,
		TriggerName:       req.TriggerName,
		TriggerType:       req.TriggerType,
		Description:       req.Description,
		WebhookURL:        webhookURL,
		VerificationToken: sealedToken,
		Config:            store.JSONB(req.Config),
	})
	if err != nil {
		return CreateTriggerResult{}, err
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
		observability.Field{Key: "app_name", Value: trigger.AppName},
	)

	// Connectors get the plaintext token; the sealed form never leaves storage.
	trigger.VerificationToken = token

	registration, err := connector.Register(ctx, trigger, account)
	if err != nil {
		s.collector.RegistrationResult(req.AppName, "failure")

		if connectors.IsTransient(err) {
			s.logger.WarnWithError(ctx, "registration failed, leaving trigger for retry", err)
			msg := err.Error()
			s.setCounters(ctx, trigger, map[string]int{"retry_count": 1})
			errored, stErr := s.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusError, &msg)
			if stErr != nil {
				s.logger.Error(ctx, "failed to mark trigger errored", stErr)
			} else {
				trigger = errored
			}
			return CreateTriggerResult{Trigger: trigger}, err
		}

		// Unretryable: roll the row back so the name is reusable.
		s.logger.WarnWithError(ctx, "registration rejected, rolling back trigger", err)
		if delErr := s.store.DeleteTrigger(ctx, trigger.ID); delErr != nil {
			s.logger.Error(ctx, "failed to roll back trigger after rejected registration", delErr)
		}
		return CreateTriggerResult{}, err
	}

	s.collector.RegistrationResult(req.AppName, "success")

	if registration.ExternalWebhookID != nil || registration.ExpiresAt != nil {
		if _, err := s.store.UpdateTriggerExternalID(ctx, trigger.ID, registration.ExternalWebhookID, registration.ExpiresAt); err != nil {
			return CreateTriggerResult{}, err
		}
	}

	active, err := s.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusActive, nil)
	if err != nil {
		return CreateTriggerResult{}, err
	}

	s.logger.Info(ctx, "trigger registered")
	return CreateTriggerResult{
		Trigger:           active,
		SetupInstructions: registration.SetupInstructions,
	}, nil
}

// Get returns one trigger.
func (s *Service) Get(ctx context.Context, triggerID uuid.UUID) (store.Trigger, error) {
	return s.store.GetTriggerByID(ctx, triggerID)
}

// List returns triggers matching the filters.
func (s *Service) List(ctx context.Context, params store.ListTriggersParams) ([]store.Trigger, error) {
	return s.store.ListTriggers(ctx, params)
}

// UpdateTriggerRequest is a partial update. A non-nil Config replaces the
// stored config and re-registers the remote subscription.
type UpdateTriggerRequest struct {
	Description *string
	Config      map[string]interface{}
}

// Update applies a partial update. Description-only changes never touch the
// provider; config changes do unregister-then-register since the remote
// subscription may depend on config values (e.g. GitHub repository).
func (s *Service) Update(ctx context.Context, triggerID uuid.UUID, req UpdateTriggerRequest) (store.Trigger, error) {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return store.Trigger{}, err
	}

	if req.Config == nil {
		return s.store.UpdateTrigger(ctx, triggerID, store.UpdateTriggerParams{
			Description: req.Description,
		})
	}

	if err := catalog.ValidateConfig(trigger.AppName, trigger.TriggerType, req.Config); err != nil {
		return store.Trigger{}, err
	}

	connector, ok := s.registry.Get(trigger.AppName)
	if !ok {
		return store.Trigger{}, fmt.Errorf("%w: %s", ErrUnknownApp, trigger.AppName)
	}
	account, err := s.resolveAccount(ctx, trigger.LinkedAccountID, trigger.AppName)
	if err != nil {
		return store.Trigger{}, err
	}
	if trigger, err = s.unsealToken(trigger); err != nil {
		return store.Trigger{}, err
	}

	if err := connector.Unregister(ctx, trigger, account); err != nil {
		s.logger.WarnWithError(ctx, "failed to unregister before config change", err)
	}

	updated, err := s.store.UpdateTrigger(ctx, triggerID, store.UpdateTriggerParams{
		Description: req.Description,
		Config:      store.JSONB(req.Config),
	})
	if err != nil {
		return store.Trigger{}, err
	}
	updated.VerificationToken = trigger.VerificationToken

	registration, err := connector.Register(ctx, updated, account)
	if err != nil {
		s.collector.RegistrationResult(trigger.AppName, "failure")
		msg := err.Error()
		if _, stErr := s.store.UpdateTriggerStatus(ctx, triggerID, store.TriggerStatusError, &msg); stErr != nil {
			s.logger.Error(ctx, "failed to mark trigger errored", stErr)
		}
		return store.Trigger{}, err
	}
	s.collector.RegistrationResult(trigger.AppName, "success")

	if _, err := s.store.UpdateTriggerExternalID(ctx, triggerID, registration.ExternalWebhookID, registration.ExpiresAt); err != nil {
		return store.Trigger{}, err
	}
	return s.store.UpdateTriggerStatus(ctx, triggerID, store.TriggerStatusActive, nil)
}

// Pause moves an active trigger to paused. No connector call: deliveries are
// refused at the door with 410 instead.
func (s *Service) Pause(ctx context.Context, triggerID uuid.UUID) (store.Trigger, error) {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return store.Trigger{}, err
	}
	if trigger.Status != store.TriggerStatusActive {
		return store.Trigger{}, fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, trigger.Status)
	}
	return s.store.UpdateTriggerStatus(ctx, triggerID, store.TriggerStatusPaused, nil)
}

// Resume moves a paused trigger back to active.
func (s *Service) Resume(ctx context.Context, triggerID uuid.UUID) (store.Trigger, error) {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return store.Trigger{}, err
	}
	if trigger.Status != store.TriggerStatusPaused {
		return store.Trigger{}, fmt.Errorf("%w: %s -> active", ErrInvalidTransition, trigger.Status)
	}
	return s.store.UpdateTriggerStatus(ctx, triggerID, store.TriggerStatusActive, nil)
}

// Delete unregisters the remote subscription best-effort and removes the
// trigger; events cascade.
func (s *Service) Delete(ctx context.Context, triggerID uuid.UUID) error {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return err
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "trigger_id", Value: trigger.ID.String()},
		observability.Field{Key: "app_name", Value: trigger.AppName},
	)

	if connector, ok := s.registry.Get(trigger.AppName); ok {
		account, accErr := s.resolveAccount(ctx, trigger.LinkedAccountID, trigger.AppName)
		if accErr == nil {
			if trigger, accErr = s.unsealToken(trigger); accErr == nil {
				accErr = connector.Unregister(ctx, trigger, account)
			}
		}
		if accErr != nil {
			s.logger.WarnWithError(ctx, "best-effort unregister failed, deleting anyway", accErr)
		}
	}

	return s.store.DeleteTrigger(ctx, trigger.ID)
}

// BulkItemError reports one failed item of a bulk operation.
type BulkItemError struct {
	TriggerID uuid.UUID `json:"trigger_id"`
	Error     string    `json:"error"`
}

// BulkResult aggregates per-item outcomes of a bulk operation.
type BulkResult struct {
	Succeeded []uuid.UUID     `json:"succeeded"`
	Failed    []BulkItemError `json:"failed"`
}

// BulkUpdateStatus pauses or resumes a set of triggers, one by one. Items
// fail independently; the result reports both sides.
func (s *Service) BulkUpdateStatus(ctx context.Context, triggerIDs []uuid.UUID, status string) BulkResult {
	var result BulkResult
	for _, id := range triggerIDs {
		var err error
		switch status {
		case store.TriggerStatusPaused:
			_, err = s.Pause(ctx, id)
		case store.TriggerStatusActive:
			_, err = s.Resume(ctx, id)
		default:
			err = fmt.Errorf("%w: bulk status must be active or paused", ErrInvalidTransition)
		}

		if err != nil {
			result.Failed = append(result.Failed, BulkItemError{TriggerID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// BulkDelete deletes a set of triggers, one by one.
func (s *Service) BulkDelete(ctx context.Context, triggerIDs []uuid.UUID) BulkResult {
	var result BulkResult
	for _, id := range triggerIDs {
		if err := s.Delete(ctx, id); err != nil {
			result.Failed = append(result.Failed, BulkItemError{TriggerID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// Health is the registration-state read model for one trigger.
type Health struct {
	TriggerID         uuid.UUID          `json:"trigger_id"`
	Status            string             `json:"status"`
	ErrorMessage      *string            `json:"error_message,omitempty"`
	Registered        bool               `json:"registered"`
	ExpiresAt         *time.Time         `json:"expires_at,omitempty"`
	LastTriggeredAt   *time.Time         `json:"last_triggered_at,omitempty"`
	RegistrationRetry int                `json:"registration_retry_count"`
	RenewalFailures   int                `json:"renewal_failure_count"`
	Stats             store.TriggerStats `json:"stats"`
}

// GetHealth returns the registration state plus recent event counts.
func (s *Service) GetHealth(ctx context.Context, triggerID uuid.UUID) (Health, error) {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return Health{}, err
	}
	stats, err := s.store.GetTriggerStats(ctx, triggerID)
	if err != nil {
		return Health{}, err
	}

	return Health{
		TriggerID:         trigger.ID,
		Status:            trigger.Status,
		ErrorMessage:      trigger.ErrorMessage,
		Registered:        trigger.ExternalWebhookID != nil,
		ExpiresAt:         trigger.ExpiresAt,
		LastTriggeredAt:   trigger.LastTriggeredAt,
		RegistrationRetry: trigger.RetryCount(),
		RenewalFailures:   trigger.RenewalFailCount(),
		Stats:             stats,
	}, nil
}

// GetStats returns event totals for one trigger.
func (s *Service) GetStats(ctx context.Context, triggerID uuid.UUID) (store.TriggerStats, error) {
	if _, err := s.store.GetTriggerByID(ctx, triggerID); err != nil {
		return store.TriggerStats{}, err
	}
	return s.store.GetTriggerStats(ctx, triggerID)
}

// RetryRegistration re-attempts registration for a trigger in error status.
// Success activates the trigger and clears the retry counter; another
// transient failure increments it.
func (s *Service) RetryRegistration(ctx context.Context, triggerID uuid.UUID) error {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return err
	}
	if trigger.Status != store.TriggerStatusError {
		return fmt.Errorf("%w: retry requires error status, got %s", ErrInvalidTransition, trigger.Status)
	}

	connector, ok := s.registry.Get(trigger.AppName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, trigger.AppName)
	}
	account, err := s.resolveAccount(ctx, trigger.LinkedAccountID, trigger.AppName)
	if err != nil {
		return err
	}
	if trigger, err = s.unsealToken(trigger); err != nil {
		return err
	}

	registration, err := connector.Register(ctx, trigger, account)
	if err != nil {
		s.collector.RegistrationResult(trigger.AppName, "failure")
		msg := err.Error()
		s.setCounters(ctx, trigger, map[string]int{"retry_count": trigger.RetryCount() + 1})
		if _, stErr := s.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusError, &msg); stErr != nil {
			s.logger.Error(ctx, "failed to record retry failure", stErr)
		}
		return err
	}

	s.collector.RegistrationResult(trigger.AppName, "success")
	s.setCounters(ctx, trigger, map[string]int{"retry_count": 0, "renewal_fail_count": 0})
	if _, err := s.store.UpdateTriggerExternalID(ctx, trigger.ID, registration.ExternalWebhookID, registration.ExpiresAt); err != nil {
		return err
	}
	_, err = s.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusActive, nil)
	return err
}

// Renew extends an expiring subscription. Providers without expiry report
// ErrNotSupported, which is a no-op here. Each failure bumps a persisted
// counter; a trigger that fails renewalFailLimit times in a row is marked
// error, and a successful renewal resets the counter.
func (s *Service) Renew(ctx context.Context, triggerID uuid.UUID) error {
	trigger, err := s.store.GetTriggerByID(ctx, triggerID)
	if err != nil {
		return err
	}

	connector, ok := s.registry.Get(trigger.AppName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, trigger.AppName)
	}
	account, err := s.resolveAccount(ctx, trigger.LinkedAccountID, trigger.AppName)
	if err != nil {
		s.collector.RenewalResult(trigger.AppName, "failure")
		return err
	}
	if trigger, err = s.unsealToken(trigger); err != nil {
		return err
	}

	registration, err := connector.Renew(ctx, trigger, account)
	if errors.Is(err, connectors.ErrNotSupported) {
		return nil
	}
	if err != nil {
		s.collector.RenewalResult(trigger.AppName, "failure")
		failures := trigger.RenewalFailCount() + 1
		s.setCounters(ctx, trigger, map[string]int{"renewal_fail_count": failures})
		if failures >= renewalFailLimit {
			s.logger.WarnWithError(ctx, fmt.Sprintf("renewal failed %d times, marking trigger errored", failures), err)
			msg := fmt.Sprintf("renewal failed %d times, last error: %v", failures, err)
			if _, stErr := s.store.UpdateTriggerStatus(ctx, trigger.ID, store.TriggerStatusError, &msg); stErr != nil {
				s.logger.Error(ctx, "failed to mark trigger errored after renewal failures", stErr)
			}
		}
		return err
	}

	s.collector.RenewalResult(trigger.AppName, "success")
	if trigger.RenewalFailCount() > 0 {
		s.setCounters(ctx, trigger, map[string]int{"renewal_fail_count": 0})
	}
	_, err = s.store.UpdateTriggerExternalID(ctx, trigger.ID, registration.ExternalWebhookID, registration.ExpiresAt)
	return err
}

// resolveAccount loads a linked account and opens its sealed credentials.
func (s *Service) resolveAccount(ctx context.Context, accountID uuid.UUID, appName string) (connectors.LinkedAccount, error) {
	record, err := s.store.GetLinkedAccountByID(ctx, accountID)
	if err != nil {
		return connectors.LinkedAccount{}, err
	}
	if record.AppName != appName {
		return connectors.LinkedAccount{}, fmt.Errorf("%w: account is for %s", ErrAccountMismatch, record.AppName)
	}

	opened, err := s.sealer.Open(record.Credentials)
	if err != nil {
		return connectors.LinkedAccount{}, fmt.Errorf("failed to open account credentials: %w", err)
	}
	var credentials map[string]interface{}
	if err := json.Unmarshal([]byte(opened), &credentials); err != nil {
		return connectors.LinkedAccount{}, fmt.Errorf("failed to decode account credentials: %w", err)
	}

	return connectors.LinkedAccount{
		ID:          record.ID,
		AppName:     record.AppName,
		Credentials: credentials,
	}, nil
}

// unsealToken swaps the stored sealed token for its plaintext on a copy of
// the trigger, for connector calls.
func (s *Service) unsealToken(trigger store.Trigger) (store.Trigger, error) {
	token, err := s.sealer.Open(trigger.VerificationToken)
	if err != nil {
		return store.Trigger{}, fmt.Errorf("failed to open verification token: %w", err)
	}
	trigger.VerificationToken = token
	return trigger, nil
}

// setCounters records lifecycle counters (retry_count, renewal_fail_count)
// in the config map. Best-effort: a failure here only loses pacing, not
// correctness.
func (s *Service) setCounters(ctx context.Context, trigger store.Trigger, counters map[string]int) {
	config := store.JSONB{}
	for k, v := range trigger.Config {
		config[k] = v
	}
	for k, v := range counters {
		config[k] = v
	}

	if _, err := s.store.UpdateTrigger(ctx, trigger.ID, store.UpdateTriggerParams{Config: config}); err != nil {
		s.logger.WarnWithError(ctx, "failed to persist lifecycle counters", err)
	}
}
