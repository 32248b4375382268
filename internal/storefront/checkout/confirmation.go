package checkout

import (
	"context"
	"time"

	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/notify"
	"github.com/rcourtman/storefront/internal/storefront/receipts"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

// Recipient is who a purchase confirmation goes to.
type Recipient struct {
	OrganizationName string
	Email            string
	Phone            string
	Address          []string
}

// RecipientFromBilling builds a Recipient from checkout billing details.
func RecipientFromBilling(d billing.Details) Recipient {
	return Recipient{
		OrganizationName: d.OrganizationName,
		Email:            d.Email,
		Phone:            d.Phone,
		Address:          addressLines(d.Street, d.City, d.State, d.Country, d.PostalCode),
	}
}

// RecipientFromOrganization builds a Recipient from a stored organization.
func RecipientFromOrganization(o *store.Organization) Recipient {
	return Recipient{
		OrganizationName: o.Name,
		Email:            o.Email,
		Phone:            o.Phone,
		Address:          addressLines(o.Street, o.City, o.State, o.Country, o.PostalCode),
	}
}

// Confirmation builds the purchase confirmation email for purchase. The PDF
// receipt is rendered and uploaded by whoever delivers the notification;
// receipt failures only drop the attachment.
func (p *Pipeline) Confirmation(to Recipient, purchase *store.Purchase, temporaryPassword string) notify.Notification {
	lines := make([]notify.ConfirmationLine, 0, len(purchase.Items))
	receiptLines := make([]receipts.Line, 0, len(purchase.Items))
	for _, it := range purchase.Items {
		title := it.Title
		if title == "" {
			title = it.ProductID
		}
		line := receipts.Line{Title: title, Quantity: it.Quantity, UnitPrice: it.Price}
		receiptLines = append(receiptLines, line)
		lines = append(lines, notify.ConfirmationLine{
			Title:     title,
			Quantity:  it.Quantity,
			LineTotal: line.Total().StringFixed(2),
		})
	}

	n := notify.Notification{
		Template: notify.TemplatePurchaseConfirmation,
		To:       to.Email,
		Data: notify.PurchaseConfirmationData{
			OrganizationName:  to.OrganizationName,
			PurchaseID:        purchase.ID,
			ClientReference:   purchase.ClientReference,
			Status:            string(purchase.Status),
			Currency:          purchase.Currency,
			Amount:            purchase.Amount.StringFixed(2),
			Lines:             lines,
			LoginEmail:        to.Email,
			TemporaryPassword: temporaryPassword,
		},
		OrganizationID:  purchase.OrganizationID,
		PurchaseID:      purchase.ID,
		ClientReference: purchase.ClientReference,
	}

	receipt := receipts.Receipt{
		SiteName:         p.siteName,
		PurchaseID:       purchase.ID,
		ClientReference:  purchase.ClientReference,
		Status:           string(purchase.Status),
		IssuedAt:         purchase.CreatedAt,
		OrganizationName: to.OrganizationName,
		Email:            to.Email,
		Phone:            to.Phone,
		Address:          to.Address,
		Currency:         purchase.Currency,
		Provider:         purchase.PaymentProvider,
		Method:           purchase.PaymentMethod,
		Lines:            receiptLines,
		Amount:           purchase.Amount,
	}
	if receipt.IssuedAt.IsZero() {
		receipt.IssuedAt = time.Now().UTC()
	}

	key := receipts.Key(purchase.OrganizationID, purchase.ClientReference)
	n.Attach = func(ctx context.Context) []notify.Attachment {
		return p.receiptAttachment(ctx, key, receipt)
	}
	return n
}

// receiptUploadTimeout bounds a receipt upload on a notification worker.
const receiptUploadTimeout = 30 * time.Second

func (p *Pipeline) receiptAttachment(ctx context.Context, key string, receipt receipts.Receipt) []notify.Attachment {
	logger := logging.FromContext(ctx)
	pdf, err := receipts.Render(receipt)
	if err != nil {
		logger.Warn().Err(err).Str("purchase_id", receipt.PurchaseID).Msg("Receipt rendering failed")
		return nil
	}

	if p.receipts != nil {
		uploadCtx, cancel := context.WithTimeout(ctx, receiptUploadTimeout)
		defer cancel()
		if _, err := p.receipts.Put(uploadCtx, key, pdf); err != nil {
			logger.Warn().Err(err).Str("purchase_id", receipt.PurchaseID).Msg("Receipt upload failed")
		}
	}
	return []notify.Attachment{{
		Name:        receipt.FileName(),
		ContentType: "application/pdf",
		Content:     pdf,
	}}
}

func (p *Pipeline) sendConfirmation(ctx context.Context, d billing.Details, purchase *store.Purchase, temporaryPassword string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Enqueue(ctx, p.Confirmation(RecipientFromBilling(d), purchase, temporaryPassword))
}

func addressLines(street, city, state, country, postal string) []string {
	var out []string
	if street != "" {
		out = append(out, street)
	}
	cityLine := city
	if state != "" {
		if cityLine != "" {
			cityLine += ", "
		}
		cityLine += state
	}
	if postal != "" {
		cityLine = joinNonEmpty(cityLine, postal)
	}
	if cityLine != "" {
		out = append(out, cityLine)
	}
	if country != "" {
		out = append(out, country)
	}
	return out
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
