package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StatusPayload is the JSON body returned by GET /api/report/status/{id}.
type StatusPayload struct {
	JobID            string          `json:"job_id"`
	Status           string          `json:"status"`
	Progress         float64         `json:"progress"`
	CurrentStep      *string         `json:"current_step"`
	StepsCompleted   []string        `json:"steps_completed"`
	Error            *string         `json:"error"`
	GovernanceReport json.RawMessage `json:"governance_report"`
	SEOReport        json.RawMessage `json:"seo_report"`
}

// ResultFor returns the result field that belongs to the given report kind,
// or nil when the server sent none.
func (p StatusPayload) ResultFor(kind ReportKind) json.RawMessage {
	var raw json.RawMessage
	switch kind {
	case KindGovernance:
		raw = p.GovernanceReport
	case KindSEO:
		raw = p.SEOReport
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// JobCreateResponse is returned by the submission endpoints.
type JobCreateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// BusinessType values accepted by the report API.
const (
	BusinessClinic               = "clinic"
	BusinessDental               = "dental"
	BusinessHealthcareServices   = "healthcare_services"
	BusinessNGO                  = "ngo"
	BusinessEducation            = "education"
	BusinessConstruction         = "construction"
	BusinessLogistics            = "logistics"
	BusinessManufacturing        = "manufacturing"
	BusinessProfessionalServices = "professional_services"
	BusinessOther                = "other"
)

var businessTypes = map[string]bool{
	BusinessClinic:               true,
	BusinessDental:               true,
	BusinessHealthcareServices:   true,
	BusinessNGO:                  true,
	BusinessEducation:            true,
	BusinessConstruction:         true,
	BusinessLogistics:            true,
	BusinessManufacturing:        true,
	BusinessProfessionalServices: true,
	BusinessOther:                true,
}

// Intent values accepted by the report API.
const (
	IntentSEO        = "seo"
	IntentGovernance = "governance"
	IntentBoth       = "both"
)

// Competitor bounds for SEO requests.
const (
	MinCompetitors = 2
	MaxCompetitors = 3
)

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid report request")

// Location identifies where the business operates.
type Location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// GovernanceReportRequest is the body of POST /api/report/governance.
type GovernanceReportRequest struct {
	WebsiteURL   string   `json:"website_url"`
	Location     Location `json:"location"`
	BusinessType string   `json:"business_type"`
	Intent       string   `json:"intent"`
}

// Validate checks the fields the report API rejects.
func (r GovernanceReportRequest) Validate() error {
	return validateCommon(r.WebsiteURL, r.BusinessType, r.Intent)
}

// SEOReportRequest is the body of POST /api/report/seo. GovernanceJobID lets
// the backend reuse the crawl of an earlier governance job.
type SEOReportRequest struct {
	WebsiteURL      string   `json:"website_url"`
	Location        Location `json:"location"`
	BusinessType    string   `json:"business_type"`
	Intent          string   `json:"intent"`
	Competitors     []string `json:"competitors"`
	GovernanceJobID string   `json:"governance_job_id,omitempty"`
}

// Validate checks the fields the report API rejects.
func (r SEOReportRequest) Validate() error {
	if err := validateCommon(r.WebsiteURL, r.BusinessType, r.Intent); err != nil {
		return err
	}
	if n := len(r.Competitors); n < MinCompetitors || n > MaxCompetitors {
		return fmt.Errorf("%w: need %d-%d competitors, got %d", ErrInvalidRequest, MinCompetitors, MaxCompetitors, n)
	}
	for _, c := range r.Competitors {
		if err := validateURL(c); err != nil {
			return fmt.Errorf("%w: competitor %q: %v", ErrInvalidRequest, c, err)
		}
	}
	return nil
}

func validateCommon(website, businessType, intent string) error {
	if err := validateURL(website); err != nil {
		return fmt.Errorf("%w: website_url: %v", ErrInvalidRequest, err)
	}
	if !businessTypes[businessType] {
		return fmt.Errorf("%w: unknown business_type %q", ErrInvalidRequest, businessType)
	}
	switch intent {
	case IntentSEO, IntentGovernance, IntentBoth:
	default:
		return fmt.Errorf("%w: unknown intent %q", ErrInvalidRequest, intent)
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// CompetitorSuggestion is one nearby business returned by the competitor
// suggestion endpoint.
type CompetitorSuggestion struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"review_count"`
	WebsiteURL  *string  `json:"website_url"`
}

// SuggestCompetitorsResponse is returned by GET /api/report/suggest-competitors.
type SuggestCompetitorsResponse struct {
	Suggestions []CompetitorSuggestion `json:"suggestions"`
	UserPlace   *CompetitorSuggestion  `json:"user_place"`
}

// SuggestCompetitorsParams are the query parameters of a suggestion lookup.
type SuggestCompetitorsParams struct {
	BusinessType string
	City         string
	Region       string
	Country      string
	WebsiteURL   string
}
