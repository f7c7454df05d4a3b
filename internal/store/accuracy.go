package store

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/numisworks/coindex/internal/model"
)

// suggestionOutcome is one accept/reject fact read back from the event
// log, reduced to what the bucket fold needs.
type suggestionOutcome struct {
	confidence float64
	accepted   bool
}

// foldAccuracy groups suggestion outcomes by the confidence recorded at
// suggestion time into fixed-width buckets. The last bucket is closed at
// 1.0, so a width of 0.1 yields [0.0,0.1) ... [0.9,1.0].
func foldAccuracy(bucketWidth float64, outcomes []suggestionOutcome) (model.AccuracyStats, error) {
	if bucketWidth <= 0 || bucketWidth > 1 {
		return model.AccuracyStats{}, eris.Errorf("accuracy: bucket width %v out of (0,1]", bucketWidth)
	}

	n := int(math.Ceil(1.0/bucketWidth - 1e-9))
	buckets := make([]model.ConfidenceBucket, n)
	for i := range buckets {
		buckets[i].Lo = float64(i) * bucketWidth
		buckets[i].Hi = math.Min(float64(i+1)*bucketWidth, 1.0)
	}

	for _, o := range outcomes {
		c := o.confidence
		if c < 0 {
			c = 0
		}
		// Division alone misplaces boundary confidences when the width is
		// not binary-exact (0.3/0.1 yields 2.999...); nudge before flooring.
		idx := int(math.Floor(c/bucketWidth + 1e-9))
		if idx >= n {
			idx = n - 1 // confidence 1.0 lands in the closed top bucket
		}
		if o.accepted {
			buckets[idx].Accepted++
		} else {
			buckets[idx].Rejected++
		}
	}

	return model.AccuracyStats{BucketWidth: bucketWidth, Buckets: buckets}, nil
}

// acceptedEventTypes are the suggestion lifecycle kinds counted as accepts.
func isAcceptedType(t model.EventType) bool {
	return t == model.EventSuggestionAccepted || t == model.EventSuggestionAutoApplied
}
