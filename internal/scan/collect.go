package scan

import (
	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/exptype"
)

// Collect groups files into the experiment's streams by the variant's stream
// key. Grouping is additive: streams and files already present are kept, and
// a file whose relative path is already in its stream is not added again.
// Files without a valid stream key are skipped.
func Collect(exp *catalog.Experiment, variant exptype.Variant, files []*catalog.File, log logrus.FieldLogger) {
	for _, f := range files {
		key, err := variant.StreamKey(f.RelativePath)
		if err != nil {
			log.WithField("path", f.RelativePath).WithError(err).Warn("no stream for file, skipping")
			continue
		}
		st, created := exp.EnsureStream(key)
		if created {
			log.WithField("stream", key).Debug("new stream")
		}
		st.AddFile(f)
	}
}
