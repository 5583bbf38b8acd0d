package nn

import "stacknn/tensor"

// Description is a serialisable summary of a layer tree.
type Description struct {
	Name        string              `json:"name" yaml:"name"`
	NIn         int                 `json:"n_in" yaml:"n_in"`
	NOut        int                 `json:"n_out" yaml:"n_out"`
	Weights     int                 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Initialized bool                `json:"initialized" yaml:"initialized"`
	Shared      bool                `json:"shared,omitempty" yaml:"shared,omitempty"`
	Inputs      []tensor.ShapeDtype `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Sublayers   []Description       `json:"sublayers,omitempty" yaml:"sublayers,omitempty"`
}

// Describe summarises l. Weights counts scalars in a layer's params; a layer
// met again further down the tree is marked Shared.
func Describe(l Layer) Description {
	return describe(l, map[*Base]bool{})
}

func describe(l Layer, seen map[*Base]bool) Description {
	b := l.layer()
	d := Description{
		Name:        b.name,
		NIn:         b.nIn,
		NOut:        b.nOut,
		Weights:     b.params.Size(),
		Initialized: b.initialized,
		Shared:      seen[b],
		Inputs:      b.inputSig,
	}
	seen[b] = true
	for _, sub := range b.sublayers {
		d.Sublayers = append(d.Sublayers, describe(sub, seen))
	}
	return d
}
