package training

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-hclog"

	"github.com/MansoorButt/kube-infra/internal/model"
)

// Trainer fits a LinearModel on a local dataset. Labels are treated as
// classes: the score is the share of held-out rows whose rounded prediction
// matches the label.
type Trainer struct {
	dataset      *Dataset
	testFraction float64
	seed         int64
	logger       hclog.Logger
}

func NewTrainer(dataset *Dataset, logger hclog.Logger) *Trainer {
	return &Trainer{
		dataset:      dataset,
		testFraction: DefaultTestFraction,
		seed:         DefaultSplitSeed,
		logger:       logger.Named("trainer"),
	}
}

func (t *Trainer) Train(ctx context.Context, initial *model.LinearModel) (*model.LinearModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if initial == nil {
		return nil, fmt.Errorf("no initial model to train")
	}
	if initial.Features != 0 && initial.Features != t.dataset.FeatureCount() {
		return nil, fmt.Errorf("initial model expects %d features, dataset has %d", initial.Features, t.dataset.FeatureCount())
	}

	t.logger.Info("Starting model training", "samples", t.dataset.Len(), "features", t.dataset.FeatureCount())

	train, test := t.dataset.Split(t.testFraction, t.seed)
	regression, err := NewLinearRegression(train.Features, train.Labels)
	if err != nil {
		return nil, err
	}

	accuracy := score(regression, test)
	t.logger.Info(fmt.Sprintf("Model training complete. Test accuracy: %.4f", accuracy), "function", regression.PrintFunction())

	return &model.LinearModel{
		Name:         initial.Name,
		Features:     t.dataset.FeatureCount(),
		Intercept:    regression.Intercept(),
		Coefficients: regression.Coefficients(),
		Samples:      train.Len(),
		Accuracy:     accuracy,
		Trained:      true,
	}, nil
}

func score(regression *LinearRegression, test *Dataset) float64 {
	if test.Len() == 0 {
		return 0
	}

	correct := 0
	for i, row := range test.Features {
		if math.Round(regression.PredictY(row)) == test.Labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(test.Len())
}
