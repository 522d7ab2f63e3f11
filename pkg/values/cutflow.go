package values

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Cutflow tracks how many events survive a sequence of selection cuts.
//
// Events[0] is the number of events entering the first cut and Events[i+1]
// the number remaining after cut i. Efficiencies[i] is Events[i+1]/Events[0].
type Cutflow struct {
	Labels       []string  `json:"labels" yaml:"labels"`
	Efficiencies []float64 `json:"efficiencies" yaml:"efficiencies"`
	Events       []int     `json:"events" yaml:"events"`
}

// NewCutflow builds a cutflow from per-cut event masks. Cuts apply
// cumulatively in order; every mask must cover all events.
func NewCutflow(labels []string, masks [][]bool) (*Cutflow, error) {
	if len(labels) != len(masks) {
		return nil, fmt.Errorf("cutflow has %d labels but %d masks", len(labels), len(masks))
	}
	if len(masks) == 0 {
		return nil, errors.New("cutflow needs at least one cut")
	}
	n := len(masks[0])
	total := make([]bool, n)
	for i := range total {
		total[i] = true
	}

	cf := &Cutflow{Labels: slices.Clone(labels), Events: []int{n}}
	for c, mask := range masks {
		if len(mask) != n {
			return nil, fmt.Errorf("mask %q covers %d events, want %d", labels[c], len(mask), n)
		}
		remaining := 0
		for i := range total {
			total[i] = total[i] && mask[i]
			if total[i] {
				remaining++
			}
		}
		eff := 0.0
		if n > 0 {
			eff = float64(remaining) / float64(n)
		}
		cf.Efficiencies = append(cf.Efficiencies, eff)
		cf.Events = append(cf.Events, remaining)
	}
	return cf, nil
}

// NBegin returns the number of events before any cut.
func (c *Cutflow) NBegin() int { return c.Events[0] }

// NEnd returns the number of events passing every cut.
func (c *Cutflow) NEnd() int { return c.Events[len(c.Events)-1] }

// Efficiency returns the overall efficiency.
func (c *Cutflow) Efficiency() float64 {
	if len(c.Efficiencies) == 0 {
		return 1
	}
	return c.Efficiencies[len(c.Efficiencies)-1]
}

// AverageCutflows combines cutflows with identical labels. Event counts add
// up and efficiencies are averaged with the entering event count as weight.
func AverageCutflows(cutflows []*Cutflow) (*Cutflow, error) {
	if len(cutflows) == 0 {
		return nil, errors.New("no cutflows to average")
	}
	first := cutflows[0]
	for _, cf := range cutflows[1:] {
		if !slices.Equal(cf.Labels, first.Labels) {
			return nil, fmt.Errorf("cutflow labels %v do not match %v", cf.Labels, first.Labels)
		}
	}

	out := &Cutflow{
		Labels:       slices.Clone(first.Labels),
		Efficiencies: make([]float64, len(first.Efficiencies)),
		Events:       make([]int, len(first.Events)),
	}
	for _, cf := range cutflows {
		for i, n := range cf.Events {
			out.Events[i] += n
		}
		for i, eff := range cf.Efficiencies {
			out.Efficiencies[i] += eff * float64(cf.NBegin())
		}
	}
	if nb := out.NBegin(); nb > 0 {
		for i := range out.Efficiencies {
			out.Efficiencies[i] /= float64(nb)
		}
	}
	return out, nil
}

// Then composes c with a cutflow applied to the events c lets through.
func (c *Cutflow) Then(next *Cutflow) (*Cutflow, error) {
	if c.NEnd() != next.NBegin() {
		return nil, fmt.Errorf("cutflows do not chain: %d events leave, %d enter", c.NEnd(), next.NBegin())
	}
	out := &Cutflow{
		Labels:       append(slices.Clone(c.Labels), next.Labels...),
		Efficiencies: slices.Clone(c.Efficiencies),
		Events:       append(slices.Clone(c.Events), next.Events[1:]...),
	}
	base := c.Efficiency()
	for _, eff := range next.Efficiencies {
		out.Efficiencies = append(out.Efficiencies, eff*base)
	}
	return out, nil
}

// MergeUnits averages the per-unit cutflows.
func (c *Cutflow) MergeUnits(units []any) (any, error) {
	cfs := make([]*Cutflow, len(units))
	for i, u := range units {
		cf, ok := u.(*Cutflow)
		if !ok {
			return nil, fmt.Errorf("unit %d is %T, want *values.Cutflow", i, u)
		}
		cfs[i] = cf
	}
	return AverageCutflows(cfs)
}

func (c *Cutflow) String() string {
	var b strings.Builder
	b.WriteString("Cutflow:")
	for i, label := range c.Labels {
		eff := c.Efficiencies[i]
		if eff*100 > 0.01 {
			fmt.Fprintf(&b, "\n    %d. %s: %.4f %%", i+1, label, eff*100)
		} else {
			fmt.Fprintf(&b, "\n    %d. %s: %.2e", i+1, label, eff)
		}
	}
	return b.String()
}
