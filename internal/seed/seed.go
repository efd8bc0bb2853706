// Package seed loads the optional labeled face profile a session starts with.
//
// The profile format is the face-api.js LabeledFaceDescriptors JSON:
//
//	[{"label": "alice", "descriptors": [[0.1, ...], ...]}, ...]
//
// Labels become registry ids as-is.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/types"
)

// ErrInvalidProfile is wrapped by every validation failure.
var ErrInvalidProfile = errors.New("invalid seed profile")

// Entry is one labeled identity.
type Entry struct {
	Label       string      `json:"label"`
	Descriptors [][]float64 `json:"descriptors"`
}

// Profile is an ordered list of entries. Order becomes registry display order.
type Profile []Entry

// Source yields a profile. Implementations: File, Database.
type Source interface {
	Load(ctx context.Context) (Profile, error)
}

// Parse decodes and validates a profile.
func Parse(r io.Reader) (Profile, error) {
	var p Profile
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// File reads a profile from a JSON file.
type File struct {
	Path string
}

func (f File) Load(_ context.Context) (Profile, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed profile: %w", err)
	}
	defer fh.Close()

	p, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return p, nil
}

// ValidateLabel rejects labels that cannot become registry ids.
func ValidateLabel(label string) error {
	switch strings.TrimSpace(label) {
	case "":
		return fmt.Errorf("%w: empty label", ErrInvalidProfile)
	case types.Unknown:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidProfile, types.Unknown)
	}
	return nil
}

// Validate checks that every entry is usable and all descriptors share one dimension.
func (p Profile) Validate() error {
	seen := make(map[string]struct{}, len(p))
	dim := 0
	for i, e := range p {
		if err := ValidateLabel(e.Label); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if len(e.Descriptors) == 0 {
			return fmt.Errorf("%w: %q has no descriptors", ErrInvalidProfile, e.Label)
		}
		if _, dup := seen[e.Label]; dup {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidProfile, e.Label)
		}
		seen[e.Label] = struct{}{}

		for j, d := range e.Descriptors {
			if len(d) == 0 {
				return fmt.Errorf("%w: %q descriptor %d is empty", ErrInvalidProfile, e.Label, j)
			}
			if dim == 0 {
				dim = len(d)
			}
			if len(d) != dim {
				return fmt.Errorf("%w: %q descriptor %d has dimension %d, expected %d",
					ErrInvalidProfile, e.Label, j, len(d), dim)
			}
			for _, v := range d {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: %q descriptor %d has a non-finite value", ErrInvalidProfile, e.Label, j)
				}
			}
		}
	}
	return nil
}

// Dim returns the descriptor dimension, 0 for an empty profile.
func (p Profile) Dim() int {
	for _, e := range p {
		for _, d := range e.Descriptors {
			return len(d)
		}
	}
	return 0
}

// Descriptors returns the total number of descriptors.
func (p Profile) Descriptors() int {
	n := 0
	for _, e := range p {
		n += len(e.Descriptors)
	}
	return n
}

// Write encodes the profile as indented JSON.
func (p Profile) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// LabelFrequency reports whether label itself is a usable frequency.
// Sessions saved from a running registry label faces with their frequency.
func LabelFrequency(label string) (float64, bool) {
	hz, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
	if err != nil || !frequency.Valid(hz) {
		return 0, false
	}
	return hz, true
}

// Adder is the registry's seeding entry point.
type Adder interface {
	Add(face types.RegisteredFace) error
}

// Apply adds every entry of p to reg. Each face gets its label frequency when
// the label is numeric, otherwise one from gen.
func Apply(reg Adder, p Profile, gen frequency.Generator) (int, error) {
	for i, e := range p {
		hz, ok := LabelFrequency(e.Label)
		if !ok {
			hz = gen.Generate()
		}

		descs := make([]types.Descriptor, len(e.Descriptors))
		for j, d := range e.Descriptors {
			descs[j] = types.Descriptor(d).Clone()
		}

		err := reg.Add(types.RegisteredFace{
			ID:          e.Label,
			Descriptors: descs,
			Frequency:   hz,
		})
		if err != nil {
			return i, fmt.Errorf("failed to seed %q: %w", e.Label, err)
		}
	}
	return len(p), nil
}
