package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoResult is returned when decoding a report from an empty result.
var ErrNoResult = errors.New("snapshot has no result")

// Evidence backs an issue or metric with an observed value.
type Evidence struct {
	Description string  `json:"description"`
	RawValue    *string `json:"raw_value"`
}

// Issue is a single governance finding.
type Issue struct {
	IssueID              string     `json:"issue_id"`
	Title                string     `json:"title"`
	Severity             string     `json:"severity"`
	Confidence           string     `json:"confidence"`
	DetectedAs           string     `json:"detected_as"`
	BusinessCategory     string     `json:"business_category"`
	Evidence             []Evidence `json:"evidence"`
	WhyItMatters         string     `json:"why_it_matters"`
	WhatHappensIfIgnored string     `json:"what_happens_if_ignored"`
	WhatToDo             []string   `json:"what_to_do"`
	ExpectedImpact       string     `json:"expected_impact"`
}

type MetricCard struct {
	Name         string     `json:"name"`
	Value        string     `json:"value"`
	Meaning      string     `json:"meaning"`
	Evidence     []Evidence `json:"evidence"`
	WhyItMatters string     `json:"why_it_matters"`
}

type SummaryItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DetectedAs  string `json:"detected_as"`
	Confidence  string `json:"confidence"`
}

type ExecutiveSummary struct {
	ExecutiveNarrative string        `json:"executive_narrative"`
	WhatsWorking       []SummaryItem `json:"whats_working"`
	NeedsAttention     []SummaryItem `json:"needs_attention"`
}

type ChecklistItem struct {
	Action       string `json:"action"`
	Category     string `json:"category"`
	Frequency    string `json:"frequency"`
	Owner        string `json:"owner"`
	Effort       string `json:"effort"`
	WhyItMatters string `json:"why_it_matters"`
}

type LimitationItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type TopImprovement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Effort      string `json:"effort"`
	Category    string `json:"category"`
}

type CategoryInsight struct {
	CategoryID  string  `json:"category_id"`
	DisplayName string  `json:"display_name"`
	Headline    string  `json:"headline"`
	Detail      string  `json:"detail"`
	Icon        string  `json:"icon"`
	Status      string  `json:"status"`
	IssueCount  int     `json:"issue_count"`
	MaxSeverity *string `json:"max_severity"`
}

// GovernanceReport is the artifact of a completed governance job.
type GovernanceReport struct {
	PagesAnalyzed    int               `json:"pages_analyzed"`
	Summary          ExecutiveSummary  `json:"summary"`
	Metrics          []MetricCard      `json:"metrics"`
	Issues           []Issue           `json:"issues"`
	Checklist30D     []ChecklistItem   `json:"checklist_30d"`
	Limitations      []LimitationItem  `json:"limitations"`
	TopImprovements  []TopImprovement  `json:"top_improvements"`
	CustomerSegment  *string           `json:"customer_segment,omitempty"`
	CategoryInsights []CategoryInsight `json:"category_insights,omitempty"`
}

type CompetitorRow struct {
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	SpeedBand       string   `json:"speed_band"`
	ContentCoverage string   `json:"content_coverage"`
	ServiceBreadth  int      `json:"service_breadth"`
	LocalSignals    []string `json:"local_signals"`
	ReviewCount     *int     `json:"review_count"`
	ReviewRating    *float64 `json:"review_rating"`
}

type GapItem struct {
	Category        string `json:"category"`
	YourValue       string `json:"your_value"`
	CompetitorValue string `json:"competitor_value"`
	Significance    string `json:"significance"`
}

type StrengthItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

type WeekAction struct {
	Action             string `json:"action"`
	Why                string `json:"why"`
	SignalStrengthened string `json:"signal_strengthened"`
	EstimatedImpact    string `json:"estimated_impact"`
	VerificationMethod string `json:"verification_method"`
}

type WeekPlan struct {
	Week    int          `json:"week"`
	Theme   string       `json:"theme"`
	Actions []WeekAction `json:"actions"`
}

// SEOReport is the artifact of a completed SEO job.
type SEOReport struct {
	CompetitorTable      []CompetitorRow `json:"competitor_table"`
	CompetitorAdvantages []StrengthItem  `json:"competitor_advantages"`
	UserStrengths        []StrengthItem  `json:"user_strengths"`
	Gaps                 []GapItem       `json:"gaps"`
	Plan30D              []WeekPlan      `json:"plan_30d"`
}

// DecodeGovernanceReport decodes a governance result payload.
func DecodeGovernanceReport(raw json.RawMessage) (*GovernanceReport, error) {
	if len(raw) == 0 {
		return nil, ErrNoResult
	}
	var r GovernanceReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode governance report: %w", err)
	}
	return &r, nil
}

// DecodeSEOReport decodes an SEO result payload.
func DecodeSEOReport(raw json.RawMessage) (*SEOReport, error) {
	if len(raw) == 0 {
		return nil, ErrNoResult
	}
	var r SEOReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode seo report: %w", err)
	}
	return &r, nil
}
