package provisioning

import (
	"fmt"
	"strings"

	"github.com/rcourtman/storefront/internal/storefront/billing"
	"github.com/rcourtman/storefront/internal/storefront/catalog"
	"github.com/rcourtman/storefront/internal/storefront/validate"
)

// Detail routes one application's access grant.
type Detail struct {
	UseSameEmailAsAdmin bool   `json:"useSameEmailAsAdmin"`
	UserEmail           string `json:"userEmail,omitempty"`
}

// Draft is a provisional Detail produced before the buyer chooses routing.
type Draft struct {
	ApplicationID string `json:"applicationId"`
	Title         string `json:"title"`
	Detail
}

// BuildDrafts returns one draft per application, granting access to the
// billing admin email.
func BuildDrafts(apps []catalog.Application, b billing.Details) map[string]Draft {
	admin := strings.ToLower(strings.TrimSpace(b.Email))
	drafts := make(map[string]Draft, len(apps))
	for _, app := range apps {
		drafts[app.ID] = Draft{
			ApplicationID: app.ID,
			Title:         app.Title,
			Detail:        Detail{UseSameEmailAsAdmin: true, UserEmail: admin},
		}
	}
	return drafts
}

// BuildDetails returns one detail per application. Applications missing from
// supplied default to the admin email; entries for unknown applications are
// dropped. An empty userEmail is treated as not supplied.
func BuildDetails(apps []catalog.Application, supplied map[string]Detail) map[string]Detail {
	out := make(map[string]Detail, len(apps))
	for _, app := range apps {
		d, ok := supplied[app.ID]
		if !ok {
			out[app.ID] = Detail{UseSameEmailAsAdmin: true}
			continue
		}
		d.UserEmail = strings.TrimSpace(d.UserEmail)
		out[app.ID] = d
	}
	return out
}

// DetailsFromDrafts strips drafts down to their routing details.
func DetailsFromDrafts(drafts map[string]Draft) map[string]Detail {
	out := make(map[string]Detail, len(drafts))
	for id, d := range drafts {
		out[id] = d.Detail
	}
	return out
}

// ValidateDetails requires a valid userEmail wherever useSameEmailAsAdmin is
// false. Violations are keyed "<applicationId>.userEmail".
func ValidateDetails(details map[string]Detail) validate.Fields {
	fields := validate.Fields{}
	for id, d := range details {
		if d.UseSameEmailAsAdmin {
			continue
		}
		email := strings.TrimSpace(d.UserEmail)
		key := fmt.Sprintf("%s.userEmail", id)
		switch {
		case email == "":
			fields.Add(key, "is required")
		case !validate.IsEmail(email):
			fields.Add(key, "must be a valid email")
		}
	}
	if fields.Empty() {
		return nil
	}
	return fields
}

// grantEmail resolves the email an application is provisioned under.
func grantEmail(d Detail, adminEmail string) string {
	if d.UseSameEmailAsAdmin {
		return adminEmail
	}
	return strings.ToLower(strings.TrimSpace(d.UserEmail))
}
