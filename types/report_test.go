package types

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyResultUndefinedScoresAreNull(t *testing.T) {
	tests := []struct {
		name   string
		result FamilyResult
		want   string
	}{
		{
			name: "classification",
			result: FamilyResult{
				ModelName: "KNeighborsClassifier",
				CVScore:   math.NaN(),
				TestSetPerformance: Performance{
					Task: Classification, Accuracy: 0, WeightedF1: math.Inf(1),
				},
			},
			want: `{"model_name":"KNeighborsClassifier","best_hyperparameters":null,
				"cross_validation_f1_score":null,
				"test_set_performance":{"accuracy":0,"weighted_f1_score":null,"full_classification_report":null}}`,
		},
		{
			name: "regression",
			result: FamilyResult{
				ModelName: "Ridge",
				CVScore:   0.5,
				TestSetPerformance: Performance{
					Task: Regression, RSquared: math.NaN(), MSE: 2, MAE: 0,
				},
			},
			want: `{"model_name":"Ridge","best_hyperparameters":null,
				"cross_validation_r2":0.5,
				"test_set_performance":{"r_squared":null,"mean_squared_error":2,"mean_absolute_error":0}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}
