// Package training manages seat-limited training registrations.
package training

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// CreateRequest is the body of POST /admin/trainings.
type CreateRequest struct {
	Title      string     `json:"title" validate:"notblank,max=200"`
	StartsAt   *time.Time `json:"startsAt"`
	SeatsTotal int        `json:"seatsTotal" validate:"gt=0"`
}

// RegisterRequest is the body of POST /training/register.
type RegisterRequest struct {
	TrainingID   string `json:"trainingId" validate:"notblank"`
	Name         string `json:"name" validate:"notblank"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
}

// CancelRequest is the body of POST /training/cancel.
type CancelRequest struct {
	RegistrationID string `json:"registrationId" validate:"notblank"`
	Reason         string `json:"reason" validate:"max=500"`
}

// CancelResult reports what Cancel did.
type CancelResult struct {
	Registration     *store.Registration
	AlreadyCancelled bool
}

// Notifier queues transactional emails.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification)
}

// Service registers and cancels attendees.
type Service struct {
	store    *store.Store
	notifier Notifier
}

// NewService creates a Service. notifier may be nil.
func NewService(s *store.Store, notifier Notifier) *Service {
	return &Service{store: s, notifier: notifier}
}

// Create opens a training session for registration.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Training, error) {
	const op = "training.create"

	req.Title = strings.TrimSpace(req.Title)
	if fields := validate.Struct(req); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	id, err := store.GenerateID(store.PrefixTraining)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}
	t := &store.Training{ID: id, Title: req.Title, SeatsTotal: req.SeatsTotal}
	if req.StartsAt != nil {
		startsAt := req.StartsAt.UTC()
		t.StartsAt = &startsAt
	}
	if err := s.store.CreateTraining(ctx, t); err != nil {
		return nil, sferrors.Persistence(op, err)
	}

	log.Info().Str("training_id", t.ID).Int("seats", t.SeatsTotal).Msg("Training created")
	return t, nil
}

// Register takes a seat for the attendee.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*store.Registration, error) {
	const op = "training.register"

	req.TrainingID = strings.TrimSpace(req.TrainingID)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if fields := validate.Struct(req); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	id, err := store.GenerateID(store.PrefixRegistration)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}
	reg := &store.Registration{
		ID:           id,
		TrainingID:   req.TrainingID,
		Name:         req.Name,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		Organization: strings.TrimSpace(req.Organization),
	}
	if err := s.store.RegisterForTraining(ctx, reg); err != nil {
		switch {
		case sferrors.Is(err, store.ErrTrainingNotFound):
			return nil, sferrors.NotFound(op, "Training not found")
		case sferrors.Is(err, store.ErrTrainingFull):
			return nil, sferrors.Conflict(op, "Training is full")
		default:
			return nil, sferrors.Persistence(op, err)
		}
	}

	log.Info().
		Str("registration_id", reg.ID).
		Str("training_id", reg.TrainingID).
		Msg("Training registration created")
	return reg, nil
}

// Cancel cancels a registration and releases its seat. Cancelling twice
// releases the seat once and sends one email.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	const op = "training.cancel"

	req.RegistrationID = strings.TrimSpace(req.RegistrationID)
	req.Reason = strings.TrimSpace(req.Reason)
	if fields := validate.Struct(req); fields != nil {
		return nil, sferrors.Validation(op, fields)
	}

	reg, already, err := s.store.CancelRegistration(ctx, req.RegistrationID, req.Reason)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}
	if reg == nil {
		return nil, sferrors.NotFound(op, "Registration not found")
	}
	if already {
		log.Info().
			Str("registration_id", reg.ID).
			Msg("Training registration already cancelled")
		return &CancelResult{Registration: reg, AlreadyCancelled: true}, nil
	}

	log.Info().
		Str("registration_id", reg.ID).
		Str("training_id", reg.TrainingID).
		Msg("Training registration cancelled")

	if s.notifier != nil {
		title := reg.TrainingID
		if t, err := s.store.GetTraining(ctx, reg.TrainingID); err == nil && t != nil {
			title = t.Title
		}
		s.notifier.Enqueue(ctx, notify.Notification{
			Template: notify.TemplateTrainingCancellation,
			To:       reg.Email,
			Data: notify.TrainingCancellationData{
				Name:          reg.Name,
				TrainingTitle: title,
				Reason:        reg.CancelReason,
			},
		})
	}
	return &CancelResult{Registration: reg}, nil
}

// Attendees lists registrations for a training, cancelled ones included.
func (s *Service) Attendees(ctx context.Context, trainingID string) ([]*store.Registration, error) {
	const op = "training.attendees"

	trainingID = strings.TrimSpace(trainingID)
	if trainingID == "" {
		return nil, sferrors.Validation(op, map[string][]string{"trainingId": {"is required"}})
	}
	regs, err := s.store.ListRegistrations(ctx, trainingID)
	if err != nil {
		return nil, sferrors.Persistence(op, err)
	}
	return regs, nil
}
