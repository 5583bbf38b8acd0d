package utils

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"stacknn/nn"
	"stacknn/tensor"
)

// WeightsVersion is written into every saved file.
const WeightsVersion = "stacknn/1"

// WeightData represents one serializable tensor
type WeightData struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights holds all tensors of a params tree. Layers is keyed by the
// structural path of the node that owns the tensors ("" is the root,
// "0/2" the third child of the first child).
type ModelWeights struct {
	Version string                 `json:"version"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight contains the tensors held directly by one tree node
type LayerWeight struct {
	Tensors []*WeightData `json:"tensors"`
}

// TreeToWeights copies every leaf of params. A node shared at several paths
// is stored under the first path Walk reaches.
func TreeToWeights(params *nn.Tree) *ModelWeights {
	mw := &ModelWeights{Version: WeightsVersion, Layers: map[string]LayerWeight{}}
	seen := map[*nn.Tree]bool{}
	params.Walk(func(path string, node *nn.Tree) {
		if seen[node] || len(node.Leaves) == 0 {
			return
		}
		seen[node] = true
		lw := LayerWeight{Tensors: make([]*WeightData, len(node.Leaves))}
		for i, t := range node.Leaves {
			lw.Tensors[i] = TensorToWeightData(t)
		}
		mw.Layers[path] = lw
	})
	return mw
}

// LoadIntoTree copies weights into the tensors of params in place, so layers
// that hold the tree see the new values. Every node with leaves must have a
// matching entry of the same shapes.
func LoadIntoTree(params *nn.Tree, weights *ModelWeights) error {
	if weights.Version != WeightsVersion {
		return errors.Errorf("unsupported weights version %q", weights.Version)
	}
	seen := map[*nn.Tree]bool{}
	var err error
	params.Walk(func(path string, node *nn.Tree) {
		if err != nil || seen[node] || len(node.Leaves) == 0 {
			return
		}
		seen[node] = true
		lw, ok := weights.Layers[path]
		if !ok {
			err = errors.Errorf("no weights for %q", path)
			return
		}
		if len(lw.Tensors) != len(node.Leaves) {
			err = errors.Errorf("%q: %d tensors stored, %d expected", path, len(lw.Tensors), len(node.Leaves))
			return
		}
		for i, t := range node.Leaves {
			wd := lw.Tensors[i]
			if !equalShape(wd.Shape, t.Shape) || len(wd.Data) != len(t.Data) {
				err = errors.Errorf("%q tensor %d: stored shape %v, expected %v", path, i, wd.Shape, t.Shape)
				return
			}
			copy(t.Data, wd.Data)
		}
	})
	return err
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal weights")
	}
	return errors.Wrapf(os.WriteFile(filepath, data, 0644), "write %s", filepath)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read weights file")
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(t *tensor.Tensor) *WeightData {
	return &WeightData{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	return tensor.FromSlice(wd.Data, wd.Shape...)
}
