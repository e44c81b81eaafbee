package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrDeserialize = errors.New("could not deserialize model")

// Codec converts a model to and from the opaque bytes exchanged on the wire.
// Deserialize(Serialize(m)) must yield an equivalent model.
type Codec[M any] interface {
	Serialize(model M) ([]byte, error)
	Deserialize(data []byte) (M, error)
}

// Trainer fits a model starting from the initial model handed out by the
// coordinator. It may take arbitrarily long; ctx bounds it.
type Trainer[M any] interface {
	Train(ctx context.Context, initial M) (M, error)
}

// TrainerFunc adapts a plain function to Trainer.
type TrainerFunc[M any] func(ctx context.Context, initial M) (M, error)

func (f TrainerFunc[M]) Train(ctx context.Context, initial M) (M, error) {
	return f(ctx, initial)
}

// JSONCodec is the default Codec.
type JSONCodec[M any] struct{}

func (JSONCodec[M]) Serialize(model M) ([]byte, error) {
	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("could not serialize model: %w", err)
	}
	return data, nil
}

func (JSONCodec[M]) Deserialize(data []byte) (M, error) {
	var model M
	if err := json.Unmarshal(data, &model); err != nil {
		return model, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return model, nil
}
