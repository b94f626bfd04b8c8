package pricing

// Credit costs for inference requests.
const (
	BaseInferenceCost    = 1
	AdditionalOutputCost = 1
	HighQualityCost      = 2
	ExtraStepsCost       = 1

	// BaseInferenceSteps is the step count included in the base cost. Every
	// full 10 steps above it adds ExtraStepsCost.
	BaseInferenceSteps     = 41
	HighQualityThreshold   = 90
	ExtraStepsPerIncrement = 10
)

// Credit costs for training requests.
const (
	BaseTrainingCost        = 50
	PerTrainingImageCost    = 2
	HighQualityTrainingCost = 20
)

// InferenceParams are the pricing-relevant parameters of an inference request.
type InferenceParams struct {
	NumOutputs        int
	OutputQuality     int
	NumInferenceSteps int
}

// InferenceCost returns the total credit cost for an inference request.
// Pricing is a pure function of the declared parameters.
func InferenceCost(p InferenceParams) int64 {
	cost := int64(BaseInferenceCost)

	if p.NumOutputs > 1 {
		cost += int64(p.NumOutputs-1) * AdditionalOutputCost
	}
	if p.OutputQuality > HighQualityThreshold {
		cost += HighQualityCost
	}
	if p.NumInferenceSteps > BaseInferenceSteps {
		extra := p.NumInferenceSteps - BaseInferenceSteps
		cost += int64(extra/ExtraStepsPerIncrement) * ExtraStepsCost
	}
	return cost
}

// TrainingCost returns the total credit cost for a training request.
func TrainingCost(numImages int, highQuality bool) int64 {
	cost := int64(BaseTrainingCost) + int64(numImages)*PerTrainingImageCost
	if highQuality {
		cost += HighQualityTrainingCost
	}
	return cost
}

// Package is a purchasable credit bundle.
type Package struct {
	Name     string `json:"name"`
	Credits  int64  `json:"credits"`
	PriceUSD int64  `json:"price_usd"`
	Discount int    `json:"discount"`
}

// Packages lists the purchasable credit bundles, keyed by plan id.
func Packages() map[string]Package {
	return map[string]Package{
		"starter": {Name: "Starter Pack", Credits: 50, PriceUSD: 5, Discount: 0},
		"pro":     {Name: "Pro Pack", Credits: 100, PriceUSD: 9, Discount: 10},
		"premium": {Name: "Premium Pack", Credits: 500, PriceUSD: 45, Discount: 20},
	}
}
