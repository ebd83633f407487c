package envdata

import (
	"context"
	"fmt"
	"time"

	"github.com/tatianab/terranaut/internal/models"
)

// maxSeriesDays caps the span a single series request may cover.
const maxSeriesDays = 400

// Series is the per-day readings of one metric; Readings[i] is for Start+i days.
type Series struct {
	Dataset  Dataset
	Start    time.Time
	Readings []models.Reading
}

// ResolveSeries resolves each requested metric for every day from start to end inclusive.
func (r *Resolver) ResolveSeries(ctx context.Context, q Query, start, end time.Time, metrics []models.Metric) (map[models.Metric]Series, error) {
	start, end = day(start), day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}
	if n := daysBetween(start, end); n > maxSeriesDays {
		return nil, fmt.Errorf("range of %d days exceeds %d", n, maxSeriesDays)
	}
	out := make(map[models.Metric]Series, len(metrics))
	for _, m := range metrics {
		ds, ok := DatasetFor(m)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", m)
		}
		s := Series{Dataset: ds, Start: start}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dq := q
			dq.Date = d
			s.Readings = append(s.Readings, r.ResolveMetric(ctx, m, dq))
		}
		out[m] = s
	}
	return out, nil
}
