package insights

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/ledger"
	"github.com/adpilot-hq/adpilot-backend/pkg/cache"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/meta"
	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
)

// TodayMetrics is one ad's same-day performance. Conversions come from the
// lead ledger, everything else from the platform report API.
type TodayMetrics struct {
	Spend       decimal.Decimal
	Impressions int64
	Clicks      int64
	Conversions int64
}

// SevenDayMetrics is one ad's trailing-7-day performance, inclusive of today.
// FrontSales stays zero for funnels without a paid front offer.
type SevenDayMetrics struct {
	Spend       decimal.Decimal
	Impressions int64
	Conversions int64
	FrontSales  int64
}

type insightsClient interface {
	GetInsights(ctx context.Context, entityID, preset string) (meta.Insights, error)
}

type conversionCounter interface {
	CountConversions(ctx context.Context, profile *models.TargetProfile, landingPageName string, window ledger.Window) (int, error)
	CountSales(ctx context.Context, profile *models.TargetProfile, landingPageName string, window ledger.Window) (int, error)
}

// Gateway reconciles the platform report API with the conversion ledgers into
// the two metric shapes the decision engine consumes. Build one per advertiser
// run; the insights client is bound to that advertiser's token and the clock
// to its timezone.
type Gateway struct {
	client  insightsClient
	counter conversionCounter
	store   cache.Cache
	ttl     time.Duration
	loc     *time.Location
	logg    *logger.Logger
	now     func() time.Time
}

// NewGateway wires a per-advertiser metrics gateway. A nil location defaults
// to UTC and a nil now to time.Now; the cache is optional.
func NewGateway(client insightsClient, counter conversionCounter, store cache.Cache, ttl time.Duration, loc *time.Location, logg *logger.Logger, now func() time.Time) (*Gateway, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "insights client required")
	}
	if counter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "conversion counter required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		client:  client,
		counter: counter,
		store:   store,
		ttl:     ttl,
		loc:     loc,
		logg:    logg,
		now:     now,
	}, nil
}

// FetchToday returns the ad's same-day metrics.
func (g *Gateway) FetchToday(ctx context.Context, profile *models.TargetProfile, ad meta.Ad) (TodayMetrics, error) {
	parsed, err := ParseAdName(ad.Name)
	if err != nil {
		return TodayMetrics{}, err
	}

	report, err := g.insightsFor(ctx, ad.ID, meta.PresetToday)
	if err != nil {
		return TodayMetrics{}, err
	}

	today := g.localDate()
	conversions, err := g.counter.CountConversions(ctx, profile, parsed.LandingPageName, ledger.Window{From: today, To: today})
	if err != nil {
		return TodayMetrics{}, err
	}

	return TodayMetrics{
		Spend:       report.Spend,
		Impressions: report.Impressions,
		Clicks:      report.Clicks,
		Conversions: int64(conversions),
	}, nil
}

// FetchSevenDay returns the ad's trailing-7-day metrics. Front-offer sales
// are only looked up for funnel categories that sell a front offer.
func (g *Gateway) FetchSevenDay(ctx context.Context, profile *models.TargetProfile, ad meta.Ad) (SevenDayMetrics, error) {
	parsed, err := ParseAdName(ad.Name)
	if err != nil {
		return SevenDayMetrics{}, err
	}

	report, err := g.insightsFor(ctx, ad.ID, meta.PresetLast7d)
	if err != nil {
		return SevenDayMetrics{}, err
	}

	today := g.localDate()
	window := ledger.Window{From: today.AddDate(0, 0, -6), To: today}
	conversions, err := g.counter.CountConversions(ctx, profile, parsed.LandingPageName, window)
	if err != nil {
		return SevenDayMetrics{}, err
	}

	metrics := SevenDayMetrics{
		Spend:       report.Spend,
		Impressions: report.Impressions,
		Conversions: int64(conversions),
	}

	if profile != nil && profile.FunnelCategory.HasFrontOffer() {
		sales, err := g.counter.CountSales(ctx, profile, parsed.LandingPageName, window)
		if err != nil {
			return SevenDayMetrics{}, err
		}
		metrics.FrontSales = int64(sales)
	}
	return metrics, nil
}

// insightsFor caches report reads per (ad, preset) so the two passes of one
// run share a single platform call.
func (g *Gateway) insightsFor(ctx context.Context, adID, preset string) (meta.Insights, error) {
	key := redis.CacheKey("insights", adID, preset)
	if g.store != nil {
		if cached, ok, err := g.store.Get(ctx, key); err == nil && ok {
			var report meta.Insights
			if jsonErr := json.Unmarshal([]byte(cached), &report); jsonErr == nil {
				return report, nil
			}
		}
	}

	report, err := g.client.GetInsights(ctx, adID, preset)
	if err != nil {
		return meta.Insights{}, err
	}

	if g.store != nil {
		if raw, marshalErr := json.Marshal(report); marshalErr == nil {
			if err := g.store.Set(ctx, key, string(raw), g.ttl); err != nil {
				g.logg.Warn(g.logg.WithField(ctx, "cache_key", key), "insights cache write failed")
			}
		}
	}
	return report, nil
}

func (g *Gateway) localDate() time.Time {
	local := g.now().In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
