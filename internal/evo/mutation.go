package evo

import (
	"errors"
	"fmt"

	"covsim/internal/seq"
)

type EventKind string

const (
	EventNone         EventKind = "none"
	EventTransition   EventKind = "transition"
	EventTransversion EventKind = "transversion"
	EventInsertion    EventKind = "insertion"
	EventDeletion     EventKind = "deletion"
)

// Event describes one applied mutation. From holds the replaced or deleted
// symbols and To the substituted or inserted ones.
type Event struct {
	Kind     EventKind `json:"kind"`
	Position int       `json:"position"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventTransition, EventTransversion:
		return fmt.Sprintf("%s %s%d%s", e.Kind, e.From, e.Position+1, e.To)
	case EventInsertion:
		return fmt.Sprintf("ins %d_%s", e.Position, e.To)
	case EventDeletion:
		return fmt.Sprintf("del %d_%s", e.Position+1, e.From)
	default:
		return string(EventNone)
	}
}

// LengthRange is a uniform distribution over [Min, Max].
type LengthRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type MutationConfig struct {
	SubstitutionRate   float64     `json:"substitution_rate"`
	SubstitutionRatio  float64     `json:"substitution_ratio"`
	TransitionRatio    float64     `json:"transition_ratio"`
	InsertionBias      float64     `json:"insertion_bias"`
	IndelLength        LengthRange `json:"indel_length"`
	EventsPerReplicate int         `json:"events_per_replicate"`
}

// MaxIndelLength bounds a single insertion or deletion.
const MaxIndelLength = 1000

// DefaultMutationConfig mirrors the desktop tool's defaults: 2:1 substitution
// to indel events, 2:1 transitions, single-base indels, site-pass mode.
func DefaultMutationConfig() MutationConfig {
	return MutationConfig{
		SubstitutionRate:  0.001,
		SubstitutionRatio: 2.0 / 3.0,
		TransitionRatio:   2.0 / 3.0,
		InsertionBias:     0.5,
		IndelLength:       LengthRange{Min: 1, Max: 1},
	}
}

func (c MutationConfig) Validate() error {
	var v configValidator
	v.unit("substitution_rate", c.SubstitutionRate)
	v.unit("substitution_ratio", c.SubstitutionRatio)
	v.unit("transition_ratio", c.TransitionRatio)
	v.unit("insertion_bias", c.InsertionBias)
	if c.IndelLength.Min < 1 {
		v.fail("indel_length.min", fmt.Sprintf("must be >= 1, got %d", c.IndelLength.Min))
	}
	if c.IndelLength.Max < c.IndelLength.Min {
		v.fail("indel_length.max", fmt.Sprintf("must be >= min %d, got %d", c.IndelLength.Min, c.IndelLength.Max))
	} else if c.IndelLength.Max > MaxIndelLength {
		v.fail("indel_length.max", fmt.Sprintf("must be <= %d, got %d", MaxIndelLength, c.IndelLength.Max))
	}
	if c.EventsPerReplicate < 0 {
		v.fail("events_per_replicate", fmt.Sprintf("must be >= 0, got %d", c.EventsPerReplicate))
	}
	return v.err()
}

// Engine applies stochastic mutation events. It holds no random state of its
// own; every call draws from the stream it is given.
type Engine struct {
	cfg MutationConfig
}

func NewEngine(cfg MutationConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() MutationConfig {
	return e.cfg
}

// Mutate applies exactly one mutation event to a copy of s. A substitution
// that does not pass the rate trigger returns s unchanged with EventNone.
func (e *Engine) Mutate(s seq.Sequence, rng Rand) (seq.Sequence, Event, error) {
	if rng == nil {
		return seq.Sequence{}, Event{}, errors.New("random source is required")
	}
	if err := e.cfg.Validate(); err != nil {
		return seq.Sequence{}, Event{}, err
	}

	if rng.Float64() < e.cfg.SubstitutionRatio {
		if s.MutableLen() == 0 {
			return s, Event{Kind: EventNone}, nil
		}
		pos := rng.Intn(s.MutableLen())
		if rng.Float64() >= e.cfg.SubstitutionRate {
			return s, Event{Kind: EventNone, Position: pos}, nil
		}
		return e.substitute(s, pos, rng)
	}

	if rng.Float64() < e.cfg.InsertionBias {
		return e.insert(s, rng.Intn(s.Len()+1), rng)
	}
	if s.Len() == 0 {
		return s, Event{Kind: EventNone}, nil
	}
	return e.delete(s, rng.Intn(s.Len()), rng)
}

// Replicate produces one mutated replicate of s. With EventsPerReplicate > 0
// it applies that many Mutate events; otherwise it walks the sequence giving
// every original site one Bernoulli trial at SubstitutionRate.
func (e *Engine) Replicate(s seq.Sequence, rng Rand) (seq.Sequence, []Event, error) {
	if rng == nil {
		return seq.Sequence{}, nil, errors.New("random source is required")
	}
	if err := e.cfg.Validate(); err != nil {
		return seq.Sequence{}, nil, err
	}

	var events []Event
	if e.cfg.EventsPerReplicate > 0 {
		out := s
		for i := 0; i < e.cfg.EventsPerReplicate; i++ {
			mutated, event, err := e.Mutate(out, rng)
			if err != nil {
				return seq.Sequence{}, nil, err
			}
			out = mutated
			if event.Kind != EventNone {
				events = append(events, event)
			}
		}
		return out, events, nil
	}

	out := s
	pos := 0
	for pos < out.Len() {
		if rng.Float64() >= e.cfg.SubstitutionRate {
			pos++
			continue
		}

		var (
			event   Event
			err     error
			mutated seq.Sequence
			advance int
		)
		switch {
		case rng.Float64() < e.cfg.SubstitutionRatio:
			advance = 1
			if pos >= out.MutableLen() {
				pos += advance
				continue
			}
			mutated, event, err = e.substitute(out, pos, rng)
		case rng.Float64() < e.cfg.InsertionBias:
			mutated, event, err = e.insert(out, pos, rng)
			// the inserted run plus the site that triggered it
			advance = len(event.To) + 1
		default:
			mutated, event, err = e.delete(out, pos, rng)
		}
		if err != nil {
			return seq.Sequence{}, nil, err
		}
		out = mutated
		events = append(events, event)
		pos += advance
	}
	return out, events, nil
}

func (e *Engine) substitute(s seq.Sequence, pos int, rng Rand) (seq.Sequence, Event, error) {
	from := s.At(pos)
	kind := EventTransversion
	var to byte
	if rng.Float64() < e.cfg.TransitionRatio {
		kind = EventTransition
		to = TransitionOf(from)
	} else {
		options := TransversionsOf(from)
		to = options[rng.Intn(len(options))]
	}
	out, err := s.WithSubstitution(pos, to)
	if err != nil {
		return seq.Sequence{}, Event{}, err
	}
	return out, Event{Kind: kind, Position: pos, From: string(from), To: string(to)}, nil
}

func (e *Engine) insert(s seq.Sequence, pos int, rng Rand) (seq.Sequence, Event, error) {
	n := e.drawLength(rng)
	symbols := make([]byte, n)
	for i := range symbols {
		symbols[i] = seq.Alphabet[rng.Intn(len(seq.Alphabet))]
	}
	out, err := s.WithInsertion(pos, symbols)
	if err != nil {
		return seq.Sequence{}, Event{}, err
	}
	return out, Event{Kind: EventInsertion, Position: pos, To: string(symbols)}, nil
}

func (e *Engine) delete(s seq.Sequence, pos int, rng Rand) (seq.Sequence, Event, error) {
	n := e.drawLength(rng)
	if n > s.Len()-pos {
		n = s.Len() - pos
	}
	removed := s.String()[pos : pos+n]
	out, err := s.WithDeletion(pos, n)
	if err != nil {
		return seq.Sequence{}, Event{}, err
	}
	return out, Event{Kind: EventDeletion, Position: pos, From: removed}, nil
}

func (e *Engine) drawLength(rng Rand) int {
	span := e.cfg.IndelLength.Max - e.cfg.IndelLength.Min
	if span <= 0 {
		return e.cfg.IndelLength.Min
	}
	return e.cfg.IndelLength.Min + rng.Intn(span+1)
}

// TransitionOf returns the purine/purine or pyrimidine/pyrimidine partner.
func TransitionOf(b byte) byte {
	switch b {
	case 'A':
		return 'G'
	case 'G':
		return 'A'
	case 'C':
		return 'T'
	case 'T':
		return 'C'
	default:
		return b
	}
}

// TransversionsOf returns the two cross-class symbols.
func TransversionsOf(b byte) []byte {
	switch b {
	case 'A', 'G':
		return []byte{'C', 'T'}
	default:
		return []byte{'A', 'G'}
	}
}
