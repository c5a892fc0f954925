package domain

import (
	"encoding/json"
	"time"
)

type RelationType string

const (
	RelationPrimary   RelationType = "primary"
	RelationSecondary RelationType = "secondary"
	RelationUnknown   RelationType = "unknown"
)

// Rank orders relation types so that the most specific one wins on collision.
func (r RelationType) Rank() int {
	switch r {
	case RelationPrimary:
		return 3
	case RelationSecondary:
		return 2
	default:
		return 1
	}
}

// CanonicalCompany is one cached registry subject keyed by MBS.
type CanonicalCompany struct {
	MBS         string          `json:"mbs"`
	Name        string          `json:"name"`
	OIB         string          `json:"oib"`
	Court       string          `json:"court"`
	Status      string          `json:"status"`
	City        string          `json:"city"`
	Address     string          `json:"address"`
	Website     string          `json:"website"`
	RawDocument json.RawMessage `json:"raw_document,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CompanySummary is the lightweight search row.
type CompanySummary struct {
	MBS       string    `json:"mbs"`
	Name      string    `json:"name"`
	OIB       string    `json:"oib"`
	Court     string    `json:"court"`
	Status    string    `json:"status"`
	City      string    `json:"city"`
	Address   string    `json:"address"`
	Website   string    `json:"website"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ClassificationCode struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	RawDocument json.RawMessage `json:"raw_document,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CompanyClassification struct {
	MBS          string       `json:"mbs"`
	Code         string       `json:"code"`
	Name         string       `json:"name,omitempty"`
	RelationType RelationType `json:"relation_type"`
}

type ClassificationMode string

const (
	ClassificationModeAny       ClassificationMode = "any"
	ClassificationModePrimary   ClassificationMode = "primary"
	ClassificationModeSecondary ClassificationMode = "secondary"
)

// ParseClassificationMode falls back to any for empty or unknown values.
func ParseClassificationMode(raw string) ClassificationMode {
	switch ClassificationMode(raw) {
	case ClassificationModePrimary:
		return ClassificationModePrimary
	case ClassificationModeSecondary:
		return ClassificationModeSecondary
	default:
		return ClassificationModeAny
	}
}

type CompanySearch struct {
	Query               string
	ClassificationCodes []string
	ClassificationMode  ClassificationMode
	City                string
	Region              string
	Limit               int
}

type RegistryCounts struct {
	Companies       int `json:"companies"`
	Classifications int `json:"classifications"`
	Associations    int `json:"associations"`
}
