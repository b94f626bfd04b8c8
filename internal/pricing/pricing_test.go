package pricing_test

import (
	"testing"

	"github.com/i-aayush/whatif/internal/pricing"
	"github.com/stretchr/testify/assert"
)

func TestInferenceCost(t *testing.T) {
	tests := []struct {
		name   string
		params pricing.InferenceParams
		want   int64
	}{
		{
			name:   "BaseRequest",
			params: pricing.InferenceParams{NumOutputs: 1, OutputQuality: 80, NumInferenceSteps: 41},
			want:   1,
		},
		{
			name:   "ExtraOutputs",
			params: pricing.InferenceParams{NumOutputs: 4, OutputQuality: 80, NumInferenceSteps: 41},
			want:   4,
		},
		{
			name:   "HighQuality",
			params: pricing.InferenceParams{NumOutputs: 1, OutputQuality: 95, NumInferenceSteps: 41},
			want:   3,
		},
		{
			name:   "QualityExactlyAtThreshold",
			params: pricing.InferenceParams{NumOutputs: 1, OutputQuality: 90, NumInferenceSteps: 41},
			want:   1,
		},
		{
			name:   "ExtraSteps",
			params: pricing.InferenceParams{NumOutputs: 1, OutputQuality: 80, NumInferenceSteps: 61},
			want:   3,
		},
		{
			name:   "StepsJustUnderIncrement",
			params: pricing.InferenceParams{NumOutputs: 1, OutputQuality: 80, NumInferenceSteps: 50},
			want:   1,
		},
		{
			name:   "Everything",
			params: pricing.InferenceParams{NumOutputs: 3, OutputQuality: 95, NumInferenceSteps: 61},
			want:   7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pricing.InferenceCost(tt.params))
		})
	}
}

func TestTrainingCost(t *testing.T) {
	assert.Equal(t, int64(50), pricing.TrainingCost(0, false))
	assert.Equal(t, int64(70), pricing.TrainingCost(10, false))
	assert.Equal(t, int64(90), pricing.TrainingCost(10, true))
}

func TestPackages(t *testing.T) {
	packages := pricing.Packages()
	assert.Len(t, packages, 3)

	starter := packages["starter"]
	assert.Equal(t, int64(50), starter.Credits)
	assert.Equal(t, int64(5), starter.PriceUSD)
	assert.Equal(t, 0, starter.Discount)

	premium := packages["premium"]
	assert.Equal(t, int64(500), premium.Credits)
	assert.Equal(t, 20, premium.Discount)
}
