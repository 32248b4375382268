package storefront

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/store"
	"github.com/rcourtman/storefront/internal/storefront/training"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

func handleTrainingCreate(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req training.CreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		tr, err := deps.Training.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "training": tr})
	}
}

func handleTrainingRegister(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req training.RegisterRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		reg, err := deps.Training.Register(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "registration": reg})
	}
}

func handleTrainingCancel(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req training.CancelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Training.Cancel(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"alreadyCancelled": res.AlreadyCancelled,
		})
	}
}

func handleTrainingAttendees(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regs, err := deps.Training.Attendees(r.Context(), r.URL.Query().Get("trainingId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if regs == nil {
			regs = []*store.Registration{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"attendees": regs})
	}
}

type contactRequest struct {
	Name    string `json:"name" validate:"notblank,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"max=50"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"notblank,max=5000"`
}

// handleContact stores the submission first; the receipt and the staff copy
// are queued and never fail the request.
func handleContact(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "contact.submit"
		ctx := r.Context()

		var req contactRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Phone = strings.TrimSpace(req.Phone)
		req.Subject = strings.TrimSpace(req.Subject)
		req.Message = strings.TrimSpace(req.Message)
		if fields := validate.Struct(req); fields != nil {
			writeError(w, r, sferrors.Validation(op, fields))
			return
		}

		id, err := store.GenerateID(store.PrefixContact)
		if err != nil {
			writeError(w, r, sferrors.Persistence(op, err))
			return
		}
		sub := &store.ContactSubmission{
			ID:      id,
			Name:    req.Name,
			Email:   req.Email,
			Phone:   req.Phone,
			Subject: req.Subject,
			Message: req.Message,
		}
		if err := deps.Store.CreateContactSubmission(ctx, sub); err != nil {
			writeError(w, r, sferrors.Persistence(op, err))
			return
		}
		logging.FromContext(ctx).Info().Str("contact_id", id).Msg("Contact submission stored")

		data := notify.ContactData{
			Name:    sub.Name,
			Email:   sub.Email,
			Phone:   sub.Phone,
			Subject: sub.Subject,
			Message: sub.Message,
		}
		deps.Notifier.Enqueue(ctx, notify.Notification{
			Template: notify.TemplateContactReceipt,
			To:       sub.Email,
			Data:     data,
		})
		if inbox := deps.Config.ContactInbox; inbox != "" {
			deps.Notifier.Enqueue(ctx, notify.Notification{
				Template: notify.TemplateContactStaff,
				To:       inbox,
				ReplyTo:  sub.Email,
				Data:     data,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"message": "Thank you for your message. We will get back to you soon."})
	}
}

type subscribeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func handleNewsletterSubscribe(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "newsletter.subscribe"
		ctx := r.Context()

		var req subscribeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if fields := validate.Struct(req); fields != nil {
			writeError(w, r, sferrors.Validation(op, fields))
			return
		}

		id, err := store.GenerateID(store.PrefixSubscriber)
		if err != nil {
			writeError(w, r, sferrors.Persistence(op, err))
			return
		}
		sub := &store.Subscriber{ID: id, Email: req.Email, Token: uuid.NewString()}
		created, err := deps.Store.UpsertSubscriber(ctx, sub)
		if err != nil {
			writeError(w, r, sferrors.Persistence(op, err))
			return
		}

		if created {
			deps.Notifier.Enqueue(ctx, notify.Notification{
				Template: notify.TemplateNewsletterWelcome,
				To:       sub.Email,
				Data:     notify.NewsletterWelcomeData{UnsubscribeURL: unsubscribeURL(deps.Config.PublicBaseURL, sub.Token)},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Subscribed successfully"})
	}
}

func unsubscribeURL(base, token string) string {
	if base == "" {
		return ""
	}
	return base + "/newsletter/unsubscribe?" + url.Values{"token": {token}}.Encode()
}

type unsubscribeRequest struct {
	Token string `json:"token"`
}

func handleNewsletterUnsubscribe(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unsubscribeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		token := strings.TrimSpace(req.Token)
		if !validate.IsUUID(token) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid unsubscribe token format"})
			return
		}

		ok, err := deps.Store.Unsubscribe(r.Context(), strings.ToLower(token))
		if err != nil {
			writeError(w, r, sferrors.Persistence("newsletter.unsubscribe", err))
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Invalid unsubscribe token or already unsubscribed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully unsubscribed from the newsletter"})
	}
}
