package align

import "encoding/json"

// Op identifies the kind of an [AlignedToken].
type Op uint8

const (
	OpMatch Op = iota
	OpSubstitution
	OpDeletion
	OpInsertion
)

// String returns the lower-case operation name used in JSON output.
func (o Op) String() string {
	switch o {
	case OpMatch:
		return "match"
	case OpSubstitution:
		return "substitution"
	case OpDeletion:
		return "deletion"
	case OpInsertion:
		return "insertion"
	}
	return "unknown"
}

// AlignedToken is one step of an alignment. It is a closed set: the only
// implementations are [Match], [Substitution], [Deletion], and [Insertion].
// Use a type switch, or [RefSlot] and [HypSlot], to read the payload.
type AlignedToken interface {
	Op() Op
	alignedToken()
}

// Match pairs a reference token with an equal (after normalisation)
// hypothesis token.
type Match struct {
	Ref, Hyp           string
	RefIndex, HypIndex int
}

// Substitution pairs a reference token with a different hypothesis token.
type Substitution struct {
	Ref, Hyp           string
	RefIndex, HypIndex int
}

// Deletion is a reference token that the hypothesis did not produce.
type Deletion struct {
	Ref      string
	RefIndex int
}

// Insertion is an extra hypothesis token with no reference counterpart.
type Insertion struct {
	Hyp      string
	HypIndex int
}

func (Match) Op() Op        { return OpMatch }
func (Substitution) Op() Op { return OpSubstitution }
func (Deletion) Op() Op     { return OpDeletion }
func (Insertion) Op() Op    { return OpInsertion }

func (Match) alignedToken()        {}
func (Substitution) alignedToken() {}
func (Deletion) alignedToken()     {}
func (Insertion) alignedToken()    {}

// RefSlot returns the reference token and index of t. ok is false for
// insertions.
func RefSlot(t AlignedToken) (token string, index int, ok bool) {
	switch v := t.(type) {
	case Match:
		return v.Ref, v.RefIndex, true
	case Substitution:
		return v.Ref, v.RefIndex, true
	case Deletion:
		return v.Ref, v.RefIndex, true
	}
	return "", 0, false
}

// HypSlot returns the hypothesis token and index of t. ok is false for
// deletions.
func HypSlot(t AlignedToken) (token string, index int, ok bool) {
	switch v := t.(type) {
	case Match:
		return v.Hyp, v.HypIndex, true
	case Substitution:
		return v.Hyp, v.HypIndex, true
	case Insertion:
		return v.Hyp, v.HypIndex, true
	}
	return "", 0, false
}

// wireToken is the JSON shape shared by all variants. Absent slots are
// omitted.
type wireToken struct {
	Op       string  `json:"op"`
	Ref      *string `json:"ref,omitempty"`
	Hyp      *string `json:"hyp,omitempty"`
	RefIndex *int    `json:"ref_index,omitempty"`
	HypIndex *int    `json:"hyp_index,omitempty"`
}

func toWire(t AlignedToken) wireToken {
	w := wireToken{Op: t.Op().String()}
	if ref, idx, ok := RefSlot(t); ok {
		w.Ref, w.RefIndex = &ref, &idx
	}
	if hyp, idx, ok := HypSlot(t); ok {
		w.Hyp, w.HypIndex = &hyp, &idx
	}
	return w
}

// MarshalJSON implements [json.Marshaler].
func (m Match) MarshalJSON() ([]byte, error) { return json.Marshal(toWire(m)) }

// MarshalJSON implements [json.Marshaler].
func (s Substitution) MarshalJSON() ([]byte, error) { return json.Marshal(toWire(s)) }

// MarshalJSON implements [json.Marshaler].
func (d Deletion) MarshalJSON() ([]byte, error) { return json.Marshal(toWire(d)) }

// MarshalJSON implements [json.Marshaler].
func (i Insertion) MarshalJSON() ([]byte, error) { return json.Marshal(toWire(i)) }
