package layers

import (
	"stacknn/nn"
)

// Residual computes x + F(x), where F is layers run in series.
func Residual(layers ...nn.Layer) nn.Layer {
	return ResidualWithShortcut(nil, layers...)
}

// ResidualWithShortcut computes shortcut(x) + F(x). A nil shortcut is the
// identity.
func ResidualWithShortcut(shortcut nn.Layer, layers ...nn.Layer) nn.Layer {
	r := nn.NewSerial(
		nn.NewBranch(shortcut, nn.NewSerial(layers...)),
		Add(),
	)
	nn.Rename(r, "Residual")
	return r
}
