package scan

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/config"
	"github.com/papapumpkin/edb/internal/format"
)

// StalenessPolicy decides when a stream's variable list must be extracted
// again.
type StalenessPolicy struct {
	// Interval is the maximum age of a variable list. Zero means
	// config.DefaultRefreshInterval.
	Interval time.Duration
}

func (p StalenessPolicy) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return config.DefaultRefreshInterval
}

// Stale reports whether a variable list refreshed at last is out of date at
// now. A list that was never refreshed is always stale.
func (p StalenessPolicy) Stale(last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) > p.interval()
}

// Refresh re-extracts the variables of every stale stream of exp from the
// stream's first file. The extracted set replaces the old one; an extraction
// error leaves the stream with no variables until the next refresh.
func (p StalenessPolicy) Refresh(ctx context.Context, exp *catalog.Experiment, formats *format.Registry, now time.Time, log logrus.FieldLogger) {
	for _, st := range exp.Streams() {
		if len(st.Files) == 0 || !p.Stale(st.LastVariableRefresh, now) {
			continue
		}
		first := st.Files[0]
		vars, err := formats.Variables(ctx, first.Kind, exp.AbsPath(first))
		if err != nil {
			log.WithFields(logrus.Fields{
				"stream": st.Name,
				"path":   first.RelativePath,
			}).WithError(err).Warn("variable extraction failed")
			vars = nil
		}
		st.ReplaceVariables(vars, now)
		log.WithField("stream", st.Name).WithField("variables", len(vars)).Debug("variables refreshed")
	}
}
