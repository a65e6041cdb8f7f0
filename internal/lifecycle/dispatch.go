package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/metrics"
)

// DispatchReport counts what happened to each start URL of one start call.
type DispatchReport struct {
	Published int `json:"published"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// dispatch publishes one message per parseable start URL, in list order, with
// the address exactly as stored.
// Malformed URLs are skipped and publish errors are counted; neither stops the
// loop, and the loop is not cut short by caller cancellation.
func (s *Service) dispatch(ctx context.Context, rec crawler.Record) DispatchReport {
	ctx = context.WithoutCancel(ctx)
	var report DispatchReport
	if s.dispatchDuration != nil {
		started := time.Now()
		defer func() {
			s.dispatchDuration.Record(ctx, time.Since(started).Seconds(),
				otelmetric.WithAttributes(attribute.String("messaging.destination", s.cfg.Topic)))
		}()
	}
	for i, raw := range rec.Config.StartURLs {
		addr, err := crawler.ParseSeedAddress(raw)
		if err != nil {
			report.Skipped++
			metrics.ObserveSeedAddress(raw, metrics.OutcomeSkipped)
			s.logger.Warn("skipping malformed seed address",
				zap.String("crawler_id", rec.ID),
				zap.Int("index", i),
				zap.String("address", raw),
				zap.Error(err),
			)
			continue
		}
		msg := crawler.AddressSuppliedMessage{CrawlerID: rec.ID, Address: addr}
		msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, msg)
		if err != nil {
			report.Failed++
			metrics.ObserveSeedAddress(msg.Address, metrics.OutcomeFailed)
			s.logger.Error("publish seed address failed",
				zap.String("crawler_id", rec.ID),
				zap.String("topic", s.cfg.Topic),
				zap.String("address", msg.Address),
				zap.Error(err),
			)
			continue
		}
		report.Published++
		metrics.ObserveSeedAddress(msg.Address, metrics.OutcomePublished)
		s.logger.Debug("seed address published",
			zap.String("crawler_id", rec.ID),
			zap.String("address", msg.Address),
			zap.String("message_id", msgID),
		)
	}
	return report
}
