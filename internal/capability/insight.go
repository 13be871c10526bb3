package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/action"
	logx "lifeauto/pkg/logx"
)

const defaultSpendingWindow = 7

type categoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// SpendingSummary aggregates a user's transactions over a window.
type SpendingSummary struct {
	WindowDays int             `json:"windowDays"`
	Total      float64         `json:"total"`
	Count      int             `json:"count"`
	Top        []categoryTotal `json:"topCategories"`
}

// summarize totals absolute amounts per category. Events without a readable
// amount are skipped.
func summarize(events []automation.Event, windowDays int) (SpendingSummary, int) {
	sum := SpendingSummary{WindowDays: windowDays}
	byCat := map[string]*categoryTotal{}
	skipped := 0
	for _, ev := range events {
		amount, err := automation.PayloadNumber(ev.Payload, "amount")
		if err != nil {
			skipped++
			continue
		}
		amount = math.Abs(amount)
		cat, _, _ := automation.Params(ev.Payload).String("category")
		if cat == "" {
			cat = "uncategorized"
		}
		key := strings.ToLower(cat)
		ct := byCat[key]
		if ct == nil {
			ct = &categoryTotal{Category: cat}
			byCat[key] = ct
		}
		ct.Total += amount
		ct.Count++
		sum.Total += amount
		sum.Count++
	}
	for _, ct := range byCat {
		sum.Top = append(sum.Top, *ct)
	}
	sort.Slice(sum.Top, func(i, j int) bool {
		if sum.Top[i].Total != sum.Top[j].Total {
			return sum.Top[i].Total > sum.Top[j].Total
		}
		return sum.Top[i].Category < sum.Top[j].Category
	})
	if len(sum.Top) > 3 {
		sum.Top = sum.Top[:3]
	}
	return sum, skipped
}

func (s *Set) analyzeSpending(ctx context.Context, inv action.Invocation) error {
	if s.events == nil {
		return errors.New("event journal unavailable")
	}
	days := defaultSpendingWindow
	if v, ok, err := inv.Params.Number("windowDays"); err != nil {
		return err
	} else if ok && v >= 1 {
		days = int(v)
	}

	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := s.events.EventsSince(ctx, inv.UserID, automation.EventTransactionCreated, since)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	sum, skipped := summarize(events, days)
	if skipped > 0 {
		s.log.Debug("spending.skipped", logx.String("user", inv.UserID), logx.Int("events", skipped))
	}

	data := map[string]any{
		"windowDays":    sum.WindowDays,
		"total":         sum.Total,
		"count":         sum.Count,
		"topCategories": sum.Top,
	}
	body := fmt.Sprintf("No transactions in the last %d days.", days)
	if sum.Count > 0 {
		top := sum.Top[0]
		body = fmt.Sprintf("You spent %.2f across %d transactions in the last %d days. Top category: %s (%.0f%%).",
			sum.Total, sum.Count, days, top.Category, 100*top.Total/sum.Total)
	}
	// The transaction that fired the routine, if any.
	if amount, ok, err := inv.Params.Number("amount"); err == nil && ok && sum.Total > 0 {
		share := math.Abs(amount) / sum.Total
		data["triggerShare"] = share
		body += fmt.Sprintf(" This transaction is %.0f%% of it.", 100*share)
	}

	_, err = s.put(ctx, inv, KindSpendingInsight, "Spending insight", body, data)
	return err
}
