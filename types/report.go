package types

import (
	"math"

	"github.com/goccy/go-json"

	"github.com/gidra39/modelselect/scoring"
)

// Performance holds held-out test metrics for one fitted family. Only the
// fields of its Task are meaningful.
type Performance struct {
	Task TaskKind

	Accuracy   float64
	WeightedF1 float64
	Report     *scoring.ClassificationReport

	RSquared float64
	MSE      float64
	MAE      float64
}

// Primary is the scalar the selector ranks families by.
func (p Performance) Primary() float64 {
	if p.Task == Classification {
		return p.WeightedF1
	}
	return p.RSquared
}

type classificationPerformance struct {
	Accuracy   *float64                      `json:"accuracy"`
	WeightedF1 *float64                      `json:"weighted_f1_score"`
	Report     *scoring.ClassificationReport `json:"full_classification_report"`
}

type regressionPerformance struct {
	RSquared *float64 `json:"r_squared"`
	MSE      *float64 `json:"mean_squared_error"`
	MAE      *float64 `json:"mean_absolute_error"`
}

func (p Performance) MarshalJSON() ([]byte, error) {
	if p.Task == Classification {
		return json.Marshal(classificationPerformance{
			Accuracy:   finite(p.Accuracy),
			WeightedF1: finite(p.WeightedF1),
			Report:     p.Report,
		})
	}
	return json.Marshal(regressionPerformance{
		RSquared: finite(p.RSquared),
		MSE:      finite(p.MSE),
		MAE:      finite(p.MAE),
	})
}

// FamilyResult is the outcome of searching, refitting and evaluating one
// family.
type FamilyResult struct {
	ModelName           string
	BestHyperparameters map[string]any
	CVScore             float64
	TestSetPerformance  Performance

	// Trials and FailedTrials describe the search; they are not reported.
	Trials       int
	FailedTrials int
}

func (r FamilyResult) MarshalJSON() ([]byte, error) {
	if r.TestSetPerformance.Task == Classification {
		return json.Marshal(struct {
			ModelName           string         `json:"model_name"`
			BestHyperparameters map[string]any `json:"best_hyperparameters"`
			CVScore             *float64       `json:"cross_validation_f1_score"`
			TestSetPerformance  Performance    `json:"test_set_performance"`
		}{r.ModelName, r.BestHyperparameters, finite(r.CVScore), r.TestSetPerformance})
	}
	return json.Marshal(struct {
		ModelName           string         `json:"model_name"`
		BestHyperparameters map[string]any `json:"best_hyperparameters"`
		CVScore             *float64       `json:"cross_validation_r2"`
		TestSetPerformance  Performance    `json:"test_set_performance"`
	}{r.ModelName, r.BestHyperparameters, finite(r.CVScore), r.TestSetPerformance})
}

// BestModelInfo describes the winning family and where its artifact lives.
type BestModelInfo struct {
	ModelName           string         `json:"model_name"`
	ModelUUID           string         `json:"model_uuid"`
	SavedModelPath      string         `json:"saved_model_path"`
	TestSetPerformance  Performance    `json:"test_set_performance"`
	BestHyperparameters map[string]any `json:"best_hyperparameters"`
}

// Report is the structured run result persisted next to the model artifact.
type Report struct {
	BestModelInfo        BestModelInfo  `json:"best_model_info"`
	AllModelsPerformance []FamilyResult `json:"all_models_performance"`
}

// finite maps NaN and Inf, which JSON cannot encode, to null so an
// undefined score is not mistaken for zero.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
