package model

// LinearModel is the model exchanged by the reference trainer. An untrained
// model only carries its shape; the initial model broadcast to the cohort is
// one of those.
type LinearModel struct {
	Name         string    `json:"name"`
	Features     int       `json:"features"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Samples      int       `json:"samples"`
	Accuracy     float64   `json:"accuracy"`
	Trained      bool      `json:"trained"`
}

func NewUntrainedLinearModel(name string, features int) *LinearModel {
	return &LinearModel{
		Name:     name,
		Features: features,
	}
}

// Predict evaluates the model for one feature row.
func (m *LinearModel) Predict(row []float64) float64 {
	y := m.Intercept
	for i, c := range m.Coefficients {
		if i < len(row) {
			y += c * row[i]
		}
	}
	return y
}
