package linkservice

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/ledger"
)

var singleLine = regexp.MustCompile(`^[^\r\n]*$`)

// AddLinkRequest inserts one link. An empty Category leaves the link
// uncategorized.
type AddLinkRequest struct {
	URL         string `json:"url" example:"https://go.dev"`
	Title       string `json:"title" example:"Go"`
	Description string `json:"description,omitempty" example:"The Go programming language."`
	Category    string `json:"category,omitempty" example:"Languages"`
}

// Validate validates the request.
func (r AddLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, validation.Length(1, 2048)),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Description, validation.Length(0, 1000)),
		validation.Field(&r.Category, validation.Length(0, 200),
			validation.Match(singleLine).Error("must not contain line breaks")),
	)
}

func (r AddLinkRequest) entry() ledger.Entry {
	return ledger.Entry{Label: r.Title, Reference: r.URL, Description: r.Description}.Normalize()
}

// DeleteLinkRequest selects a link by URL or title; at least one is required.
type DeleteLinkRequest struct {
	URL   string `json:"url,omitempty" example:"https://go.dev"`
	Title string `json:"title,omitempty" example:"Go"`
}

// Validate validates the request.
func (r DeleteLinkRequest) Validate() error {
	missing := strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.Title) == ""
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.When(missing, validation.Required.Error("url or title is required"))),
		validation.Field(&r.Title, validation.When(missing, validation.Required.Error("url or title is required"))),
	)
}

func (r DeleteLinkRequest) match() ledger.Match {
	return ledger.Match{Reference: strings.TrimSpace(r.URL), Label: strings.TrimSpace(r.Title)}
}

// DeleteLinksRequest deletes every link matching any element.
type DeleteLinksRequest struct {
	Links []DeleteLinkRequest `json:"links"`
}

// Validate validates the request and each element.
func (r DeleteLinksRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Links, validation.Required),
	)
}

func (r DeleteLinksRequest) matches() []ledger.Match {
	out := make([]ledger.Match, len(r.Links))
	for i, l := range r.Links {
		out[i] = l.match()
	}
	return out
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrMalformedRequest, err)
}
