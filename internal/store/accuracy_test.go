package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldAccuracy_Buckets(t *testing.T) {
	stats, err := foldAccuracy(0.25, []suggestionOutcome{
		{confidence: 0.0, accepted: true},
		{confidence: 0.24, accepted: false},
		{confidence: 0.25, accepted: true},
		{confidence: 0.9, accepted: true},
		{confidence: 1.0, accepted: false},
	})
	require.NoError(t, err)

	require.Len(t, stats.Buckets, 4)
	assert.Equal(t, 0.25, stats.BucketWidth)

	// [0, 0.25)
	assert.Equal(t, 1, stats.Buckets[0].Accepted)
	assert.Equal(t, 1, stats.Buckets[0].Rejected)
	// [0.25, 0.5) takes the boundary value.
	assert.Equal(t, 1, stats.Buckets[1].Accepted)
	// [0.75, 1.0] is closed: confidence 1.0 lands here, not out of range.
	assert.Equal(t, 1, stats.Buckets[3].Accepted)
	assert.Equal(t, 1, stats.Buckets[3].Rejected)
}

func TestFoldAccuracy_BoundariesAtWidthTenth(t *testing.T) {
	// 0.3 and 0.7 are not binary-exact multiples of 0.1; they still belong
	// in the bucket whose Lo they sit on.
	stats, err := foldAccuracy(0.1, []suggestionOutcome{
		{confidence: 0.3, accepted: true},
		{confidence: 0.6, accepted: true},
		{confidence: 0.7, accepted: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Buckets[3].Accepted, "0.3 belongs in [0.3,0.4)")
	assert.Equal(t, 1, stats.Buckets[6].Accepted, "0.6 belongs in [0.6,0.7)")
	assert.Equal(t, 1, stats.Buckets[7].Accepted, "0.7 belongs in [0.7,0.8)")
	assert.Equal(t, 0, stats.Buckets[2].Accepted)
}

func TestFoldAccuracy_LastBucketClosedAtOne(t *testing.T) {
	stats, err := foldAccuracy(0.1, nil)
	require.NoError(t, err)

	require.Len(t, stats.Buckets, 10)
	assert.Equal(t, 0.9, stats.Buckets[9].Lo)
	assert.Equal(t, 1.0, stats.Buckets[9].Hi)
}

func TestFoldAccuracy_UnevenWidth(t *testing.T) {
	// 1/0.3 does not divide evenly; the top bucket is truncated to 1.0.
	stats, err := foldAccuracy(0.3, nil)
	require.NoError(t, err)

	require.Len(t, stats.Buckets, 4)
	assert.Equal(t, 1.0, stats.Buckets[3].Hi)
}

func TestFoldAccuracy_InvalidWidth(t *testing.T) {
	_, err := foldAccuracy(0, nil)
	require.Error(t, err)

	_, err = foldAccuracy(1.5, nil)
	require.Error(t, err)
}

func TestFoldAccuracy_NegativeConfidenceClamped(t *testing.T) {
	stats, err := foldAccuracy(0.5, []suggestionOutcome{{confidence: -0.2, accepted: false}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Buckets[0].Rejected)
}

func TestIsAcceptedType(t *testing.T) {
	assert.True(t, isAcceptedType("suggestion.accepted"))
	assert.True(t, isAcceptedType("suggestion.auto_applied"))
	assert.False(t, isAcceptedType("suggestion.rejected"))
	assert.False(t, isAcceptedType("coin.created"))
}
