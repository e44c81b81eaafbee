package training

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/MansoorButt/kube-infra/internal/common"
)

const DefaultSplitSeed = 42
const DefaultTestFraction = 0.5

// Dataset is a dense feature matrix with one numeric label per row.
type Dataset struct {
	Features [][]float64
	Labels   []float64
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

func (d *Dataset) FeatureCount() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// LoadCsvDataset reads rows of `feature,...,feature,label`. A first row that
// does not parse is treated as a header.
func LoadCsvDataset(filePath string) (*Dataset, error) {
	records, err := common.ReadCsvFile(filePath)
	if err != nil {
		return nil, err
	}

	dataset := &Dataset{}
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("incorrect CSV record on line %d: %v", i+1, record)
		}

		row := make([]float64, len(record))
		parsed := true
		for j, field := range record {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				parsed = false
				break
			}
			row[j] = value
		}
		if !parsed {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("non numeric CSV record on line %d: %v", i+1, record)
		}

		if n := dataset.FeatureCount(); n != 0 && n != len(row)-1 {
			return nil, fmt.Errorf("CSV record on line %d has %d features, expected %d", i+1, len(row)-1, n)
		}
		dataset.Features = append(dataset.Features, row[:len(row)-1])
		dataset.Labels = append(dataset.Labels, row[len(row)-1])
	}

	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset %s has no rows", filePath)
	}
	return dataset, nil
}

// SyntheticDataset generates a reproducible three-class dataset whose
// features grow linearly with the class label.
func SyntheticDataset(samples int, features int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	dataset := &Dataset{
		Features: make([][]float64, samples),
		Labels:   make([]float64, samples),
	}

	for i := 0; i < samples; i++ {
		label := float64(i % 3)
		row := make([]float64, features)
		for j := range row {
			row[j] = label*float64(j+1) + rng.NormFloat64()*0.2
		}
		dataset.Features[i] = row
		dataset.Labels[i] = label
	}

	return dataset
}

// Split shuffles the rows with a fixed seed and holds out testFraction of
// them for scoring.
func (d *Dataset) Split(testFraction float64, seed int64) (*Dataset, *Dataset) {
	order := rand.New(rand.NewSource(seed)).Perm(d.Len())
	testSize := int(float64(d.Len()) * testFraction)

	train := &Dataset{}
	test := &Dataset{}
	for i, idx := range order {
		target := train
		if i < testSize {
			target = test
		}
		target.Features = append(target.Features, d.Features[idx])
		target.Labels = append(target.Labels, d.Labels[idx])
	}

	return train, test
}
