package lab

import (
	"time"

	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/trading"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Report is the persisted result of a completed EOD run
type Report struct {
	gorm.Model    `json:"-"`
	RunID         string          `gorm:"uniqueIndex" json:"run_id"`
	SessionID     string          `gorm:"index" json:"session_id"`
	Owner         string          `gorm:"index" json:"owner"`
	TradeCount    int             `json:"trade_count"`
	SettledCount  int             `json:"settled_count"`
	RejectedCount int             `json:"rejected_count"`
	TotalNotional decimal.Decimal `gorm:"type:varchar(64)" json:"total_notional"`
	TotalNPV      decimal.Decimal `gorm:"type:varchar(64)" json:"total_npv"`
	TotalDV01     decimal.Decimal `gorm:"type:varchar(64)" json:"total_dv01"`
	Log           string          `json:"log"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Lines         []ReportLine    `gorm:"foreignKey:RunID;references:RunID" json:"lines,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReportLine is one trade as it stood at the end of a run
type ReportLine struct {
	gorm.Model  `json:"-"`
	RunID       string          `gorm:"index" json:"run_id"`
	TradeID     string          `json:"trade_id"`
	ProductType string          `json:"product_type"`
	Asset       string          `json:"asset"`
	Status      string          `json:"status"`
	Notional    decimal.Decimal `gorm:"type:varchar(64)" json:"notional"`
	TradeRate   decimal.Decimal `gorm:"type:varchar(64)" json:"trade_rate"`
	MarketRate  decimal.Decimal `gorm:"type:varchar(64)" json:"market_rate"`
	NPV         decimal.Decimal `gorm:"type:varchar(64)" json:"npv"`
	DV01        decimal.Decimal `gorm:"type:varchar(64)" json:"dv01"`
}

// newReport captures a finished run and the book it produced
func newReport(sessionID, owner string, run batch.Run, trades []trading.Trade) *Report {
	summary := trading.Summarize(trades)
	r := &Report{
		RunID:         run.ID,
		SessionID:     sessionID,
		Owner:         owner,
		TradeCount:    summary.TradeCount,
		SettledCount:  summary.ByStatus[trading.StatusSettled],
		RejectedCount: summary.RejectedCount,
		TotalNotional: summary.TotalNotional,
		TotalNPV:      summary.TotalNPV,
		TotalDV01:     summary.TotalDV01,
		Lines:         make([]ReportLine, 0, len(trades)),
	}
	for i, line := range run.Lines() {
		if i > 0 {
			r.Log += "\n"
		}
		r.Log += line
	}
	if run.StartedAt != nil {
		r.StartedAt = *run.StartedAt
	}
	if run.FinishedAt != nil {
		r.FinishedAt = *run.FinishedAt
	}
	for _, t := range trades {
		r.Lines = append(r.Lines, ReportLine{
			RunID:       run.ID,
			TradeID:     t.ID,
			ProductType: string(t.ProductType),
			Asset:       t.Asset,
			Status:      string(t.Status),
			Notional:    t.Notional,
			TradeRate:   t.TradeRate,
			MarketRate:  t.MarketRate,
			NPV:         t.NPV,
			DV01:        t.DV01,
		})
	}
	return r
}
