package split

import (
	"fmt"

	"stacknn/nn"
)

// Cut splits s before sublayer at: the client half gets the first at
// sublayers, the server half the rest. Both halves reuse the original layer
// instances, so an initialized model stays initialized.
//
// Values a half does not consume are passed through it unchanged: inputs a
// later sublayer reads from below the client's outputs travel through the
// client half, and outputs the server leaves on the stack come back with
// its results. Applying the halves in turn therefore equals applying s.
func Cut(s *nn.Serial, at int) (client, server *nn.Serial, err error) {
	subs := s.Sublayers()
	if at <= 0 || at >= len(subs) {
		return nil, nil, fmt.Errorf("cut point %d outside (0, %d)", at, len(subs))
	}
	parts := segments(s, []string{"client", "server"}, subs[:at], subs[at:])
	return parts[0], parts[1], nil
}

// Partition splits s into a client head [0, from), a server part
// [from, to) and a client tail [to, n). The tail is nil when to == n.
// Values pass through the parts as in Cut.
func Partition(s *nn.Serial, from, to int) (head, server, tail *nn.Serial, err error) {
	subs := s.Sublayers()
	if from <= 0 || to <= from || to > len(subs) {
		return nil, nil, nil, fmt.Errorf("partition [%d, %d) invalid for %d sublayers", from, to, len(subs))
	}
	if to == len(subs) {
		parts := segments(s, []string{"client", "server"}, subs[:from], subs[from:])
		return parts[0], parts[1], nil, nil
	}
	parts := segments(s, []string{"client", "server", "tail"}, subs[:from], subs[from:to], subs[to:])
	return parts[0], parts[1], parts[2], nil
}

// segments builds one Serial per run of sublayers. Each part receives the
// whole stack left by the previous one; a part that reads fewer values is
// wrapped so the rest pass through below its outputs.
func segments(s *nn.Serial, names []string, runs ...[]nn.Layer) []*nn.Serial {
	depth := s.NIn()
	parts := make([]*nn.Serial, len(runs))
	for i, run := range runs {
		part := nn.NewSerial(run...)
		if extra := depth - part.NIn(); extra > 0 {
			branches := []nn.Layer{part}
			for j := 0; j < extra; j++ {
				branches = append(branches, nn.NoOp())
			}
			part = nn.NewSerial(nn.NewParallel(branches...))
		}
		depth = part.NOut()
		nn.Rename(part, fmt.Sprintf("%s/%s", s.Name(), names[i]))
		parts[i] = part
	}
	return parts
}
