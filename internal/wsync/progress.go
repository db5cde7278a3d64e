package wsync

// Progress is the engine's current status line and completion fraction.
type Progress struct {
	Message       string
	Fraction      float64
	Indeterminate bool
}

// stepProgress spreads the build phase fraction over steps by weight.
type stepProgress struct {
	total int
	done  int
}

func newStepProgress(weights []int) *stepProgress {
	p := &stepProgress{}
	for _, w := range weights {
		p.total += w
	}
	return p
}

func (p *stepProgress) fraction() float64 {
	if p.total == 0 {
		return 1
	}
	return float64(p.done) / float64(p.total)
}

func (p *stepProgress) complete(weight int) {
	p.done += weight
	if p.done > p.total {
		p.done = p.total
	}
}

// phaseSpan is the part of the overall progress bar one update phase fills.
type phaseSpan struct {
	start, size float64
}

// at maps a fraction of the phase onto the overall bar.
func (p phaseSpan) at(fraction float64) float64 {
	return p.start + min(max(fraction, 0), 1)*p.size
}

// splitPhases divides [0,1] evenly between the active phases, in order.
// Inactive phases get an empty span at the position they would start.
func splitPhases(active ...bool) []phaseSpan {
	n := 0
	for _, a := range active {
		if a {
			n++
		}
	}
	spans := make([]phaseSpan, len(active))
	start := 0.0
	for i, a := range active {
		spans[i].start = start
		if a {
			spans[i].size = 1 / float64(n)
			start += spans[i].size
		}
	}
	return spans
}
