package simulator

import (
	"encoding/json"

	"github.com/seantiz/reportwatch/internal/model"
)

var (
	cannedGovernanceReport = mustMarshal(governanceReport())
	cannedSEOReport        = mustMarshal(seoReport())
)

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func ptr[T any](v T) *T { return &v }

func governanceReport() model.GovernanceReport {
	return model.GovernanceReport{
		PagesAnalyzed: 12,
		Summary: model.ExecutiveSummary{
			ExecutiveNarrative: "The site loads quickly but several pages lack contact details.",
			WhatsWorking: []model.SummaryItem{{
				Title:       "Fast homepage",
				Description: "Largest contentful paint under two seconds.",
				DetectedAs:  "measured",
				Confidence:  "high",
			}},
			NeedsAttention: []model.SummaryItem{{
				Title:       "Missing phone number",
				Description: "Service pages do not show a phone number.",
				DetectedAs:  "observed",
				Confidence:  "medium",
			}},
		},
		Metrics: []model.MetricCard{{
			Name:         "Mobile performance",
			Value:        "87",
			Meaning:      "Good",
			Evidence:     []model.Evidence{{Description: "PageSpeed mobile score", RawValue: ptr("87")}},
			WhyItMatters: "Most visitors arrive on phones.",
		}},
		Issues: []model.Issue{{
			IssueID:              "contact-missing",
			Title:                "Contact details missing on service pages",
			Severity:             "medium",
			Confidence:           "medium",
			DetectedAs:           "observed",
			BusinessCategory:     "conversion",
			Evidence:             []model.Evidence{{Description: "No tel: link on /services"}},
			WhyItMatters:         "Visitors who cannot call leave.",
			WhatHappensIfIgnored: "Lost enquiries.",
			WhatToDo:             []string{"Add a click-to-call button to the page header."},
			ExpectedImpact:       "More calls from mobile visitors.",
		}},
		Checklist30D: []model.ChecklistItem{{
			Action:       "Review contact links",
			Category:     "conversion",
			Frequency:    "monthly",
			Owner:        "office manager",
			Effort:       "low",
			WhyItMatters: "Broken contact links go unnoticed.",
		}},
		Limitations: []model.LimitationItem{{
			Title:       "Sampled pages",
			Description: "Only twelve pages were analyzed.",
		}},
		TopImprovements: []model.TopImprovement{{
			Title:       "Click-to-call header",
			Description: "Show the phone number on every page.",
			Effort:      "low",
			Category:    "conversion",
		}},
	}
}

func seoReport() model.SEOReport {
	return model.SEOReport{
		CompetitorTable: []model.CompetitorRow{{
			Name:            "Bright Smiles",
			URL:             "https://brightsmiles.example",
			SpeedBand:       "fast",
			ContentCoverage: "broad",
			ServiceBreadth:  9,
			LocalSignals:    []string{"google_business_profile", "local_schema"},
			ReviewCount:     ptr(214),
			ReviewRating:    ptr(4.7),
		}},
		CompetitorAdvantages: []model.StrengthItem{{
			Title:       "More reviews",
			Description: "Competitors average three times as many reviews.",
			Evidence:    []string{"Bright Smiles: 214 reviews"},
		}},
		UserStrengths: []model.StrengthItem{{
			Title:       "Faster site",
			Description: "Your pages load faster than every competitor.",
			Evidence:    []string{"Mobile score 87 vs 61"},
		}},
		Gaps: []model.GapItem{{
			Category:        "reviews",
			YourValue:       "58",
			CompetitorValue: "214",
			Significance:    "high",
		}},
		Plan30D: []model.WeekPlan{{
			Week:  1,
			Theme: "Reviews",
			Actions: []model.WeekAction{{
				Action:             "Ask recent patients for a review",
				Why:                "Review volume drives local ranking.",
				SignalStrengthened: "reviews",
				EstimatedImpact:    "medium",
				VerificationMethod: "Count new reviews after two weeks.",
			}},
		}},
	}
}

func defaultSuggestions() model.SuggestCompetitorsResponse {
	return model.SuggestCompetitorsResponse{
		Suggestions: []model.CompetitorSuggestion{
			{
				Name:        "Bright Smiles",
				Address:     "100 Congress Ave, Austin, TX",
				Rating:      ptr(4.7),
				ReviewCount: ptr(214),
				WebsiteURL:  ptr("https://brightsmiles.example"),
			},
			{
				Name:        "Eastside Dental",
				Address:     "42 E 6th St, Austin, TX",
				Rating:      ptr(4.4),
				ReviewCount: ptr(97),
			},
		},
	}
}
