package data

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// QualityIssue is one detected data problem.
type QualityIssue struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"` // "critical", "high", "medium"
	Date     time.Time `json:"date"`
	Message  string    `json:"message"`
}

// QualityReport summarizes the integrity of one series.
type QualityReport struct {
	Symbol       string         `json:"symbol"`
	TotalBars    int            `json:"totalBars"`
	Issues       []QualityIssue `json:"issues"`
	QualityScore int            `json:"qualityScore"` // 0-100
	IsUsable     bool           `json:"isUsable"`
}

// QualityValidator checks daily series before they feed a simulation.
// Bad input data silently corrupts every downstream statistic, so
// suspect series are flagged rather than repaired.
type QualityValidator struct {
	logger *zap.Logger

	MaxDailyMove float64 // moves beyond this fraction are flagged
	MaxGapDays   int     // calendar gaps longer than this are flagged
}

// NewQualityValidator returns a validator with crypto-friendly limits.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:       logger,
		MaxDailyMove: 0.30,
		MaxGapDays:   7,
	}
}

// Validate scans a series and scores it. Each critical issue costs 15
// points, high 5, medium 1; below 60 the series is marked unusable.
func (v *QualityValidator) Validate(series *Series) QualityReport {
	report := QualityReport{
		Symbol:    series.Symbol,
		TotalBars: len(series.Bars),
	}

	for i, bar := range series.Bars {
		if math.IsNaN(bar.Close) {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "missing_close", Severity: "critical", Date: bar.Date,
				Message: "close price missing",
			})
			continue
		}
		if bar.Close <= 0 {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "non_positive_price", Severity: "critical", Date: bar.Date,
				Message: fmt.Sprintf("close %.4f is not positive", bar.Close),
			})
			continue
		}

		if i == 0 {
			continue
		}
		prev := series.Bars[i-1]

		if !prev.Date.Before(bar.Date) {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "unordered_dates", Severity: "critical", Date: bar.Date,
				Message: "dates not strictly ascending",
			})
		}
		if gap := int(bar.Date.Sub(prev.Date).Hours() / 24); gap > v.MaxGapDays {
			report.Issues = append(report.Issues, QualityIssue{
				Type: "date_gap", Severity: "medium", Date: bar.Date,
				Message: fmt.Sprintf("%d day gap in history", gap),
			})
		}
		if prev.Close > 0 {
			move := math.Abs(bar.Close/prev.Close - 1)
			if move > v.MaxDailyMove {
				report.Issues = append(report.Issues, QualityIssue{
					Type: "extreme_move", Severity: "high", Date: bar.Date,
					Message: fmt.Sprintf("%.1f%% daily move", move*100),
				})
			}
		}
	}

	score := 100
	for _, issue := range report.Issues {
		switch issue.Severity {
		case "critical":
			score -= 15
		case "high":
			score -= 5
		default:
			score--
		}
	}
	if score < 0 {
		score = 0
	}
	report.QualityScore = score
	report.IsUsable = score >= 60 && len(series.Bars) > 0

	if v.logger != nil && len(report.Issues) > 0 {
		v.logger.Warn("data quality issues",
			zap.String("symbol", series.Symbol),
			zap.Int("issues", len(report.Issues)),
			zap.Int("score", report.QualityScore),
		)
	}

	return report
}
