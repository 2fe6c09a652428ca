package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification is the regulator-style arrears bucket of a loan
type Classification string

const (
	ClassCurrent        Classification = "CURRENT"
	ClassSpecialMention Classification = "SPECIAL_MENTION"
	ClassSubstandard    Classification = "SUBSTANDARD"
	ClassDoubtful       Classification = "DOUBTFUL"
	ClassLoss           Classification = "LOSS"
)

// ClassificationBand maps a days-past-due range onto a classification with
// its provisioning consequences.
type ClassificationBand struct {
	MinDPD         int
	Classification Classification
	ProvisionRate  decimal.Decimal
	NonAccrual     bool
}

// ClassificationBands is the provisioning table, ordered by descending DPD
// threshold so the first matching band wins.
var ClassificationBands = []ClassificationBand{
	{MinDPD: 365, Classification: ClassLoss, ProvisionRate: decimal.NewFromInt(1), NonAccrual: true},
	{MinDPD: 180, Classification: ClassDoubtful, ProvisionRate: decimal.NewFromFloat(0.50), NonAccrual: true},
	{MinDPD: 90, Classification: ClassSubstandard, ProvisionRate: decimal.NewFromFloat(0.20), NonAccrual: true},
	{MinDPD: 30, Classification: ClassSpecialMention, ProvisionRate: decimal.Zero, NonAccrual: false},
	{MinDPD: 0, Classification: ClassCurrent, ProvisionRate: decimal.Zero, NonAccrual: false},
}

// ClassifyDPD returns the classification band for the given days past due.
func ClassifyDPD(dpd int) ClassificationBand {
	for _, band := range ClassificationBands {
		if dpd >= band.MinDPD {
			return band
		}
	}
	return ClassificationBands[len(ClassificationBands)-1]
}

// Severity ranks classifications from Current (0) to Loss (4).
func (c Classification) Severity() int {
	switch c {
	case ClassSpecialMention:
		return 1
	case ClassSubstandard:
		return 2
	case ClassDoubtful:
		return 3
	case ClassLoss:
		return 4
	default:
		return 0
	}
}

// ArrearsClassificationHistory is one append-only reclassification record.
// A row is written only when a loan's classification changes.
type ArrearsClassificationHistory struct {
	ID                     int64           `json:"id"`
	LoanID                 int64           `json:"loan_id"`
	PreviousClassification Classification  `json:"previous_classification"`
	NewClassification      Classification  `json:"new_classification"`
	DaysPastDue            int             `json:"days_past_due"`
	OutstandingBalance     decimal.Decimal `json:"outstanding_balance"`
	ProvisionRate          decimal.Decimal `json:"provision_rate"`
	ProvisionAmount        decimal.Decimal `json:"provision_amount"`
	IsNonAccrual           bool            `json:"is_non_accrual"`
	ClassifiedAt           time.Time       `json:"classified_at"`
	TriggeredBy            string          `json:"triggered_by"`
}

// ArrearsSummary counts loans per classification bucket.
type ArrearsSummary struct {
	Total   int                    `json:"total"`
	Buckets map[Classification]int `json:"buckets"`
}
