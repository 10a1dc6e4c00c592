package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Angle is a canonical vehicle viewpoint token.
type Angle string

const (
	AngleFront      Angle = "front"
	AngleFrontLeft  Angle = "front_left"
	AngleFrontRight Angle = "front_right"
	AngleSideLeft   Angle = "side_left"
	AngleSideRight  Angle = "side_right"
	AngleBack       Angle = "back"
	AngleBackLeft   Angle = "back_left"
	AngleBackRight  Angle = "back_right"
	AngleUnknown    Angle = "unknown"
)

// CanonicalAngles returns the full 9-token set in presentation order.
func CanonicalAngles() []Angle {
	return []Angle{
		AngleFront, AngleFrontLeft, AngleFrontRight,
		AngleSideLeft, AngleSideRight,
		AngleBack, AngleBackLeft, AngleBackRight,
		AngleUnknown,
	}
}

// ParseAngle rejects any token outside the canonical set at the boundary.
func ParseAngle(raw string) (Angle, error) {
	a := Angle(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case AngleFront, AngleFrontLeft, AngleFrontRight,
		AngleSideLeft, AngleSideRight,
		AngleBack, AngleBackLeft, AngleBackRight,
		AngleUnknown:
		return a, nil
	}
	return AngleUnknown, WrapError(ErrInvalidInput, "parse angle", fmt.Errorf("unknown angle token %q", raw))
}

// Valid reports whether a is one of the 9 canonical tokens.
func (a Angle) Valid() bool {
	_, err := ParseAngle(string(a))
	return err == nil
}

// Resolved reports whether a is a definitive directional label.
func (a Angle) Resolved() bool {
	return a != AngleUnknown && a.Valid()
}

// SwapLR mirrors an angle across the vehicle's longitudinal axis.
// It is total and involutive: SwapLR(SwapLR(a)) == a for every canonical token.
func SwapLR(a Angle) Angle {
	switch a {
	case AngleFrontLeft:
		return AngleFrontRight
	case AngleFrontRight:
		return AngleFrontLeft
	case AngleSideLeft:
		return AngleSideRight
	case AngleSideRight:
		return AngleSideLeft
	case AngleBackLeft:
		return AngleBackRight
	case AngleBackRight:
		return AngleBackLeft
	default:
		return a
	}
}

// ArrowFor maps an angle to a directional glyph for compact UI rendering.
func ArrowFor(a Angle) string {
	switch a {
	case AngleFront:
		return "↑"
	case AngleFrontLeft:
		return "↖"
	case AngleFrontRight:
		return "↗"
	case AngleSideLeft:
		return "←"
	case AngleSideRight:
		return "→"
	case AngleBack:
		return "↓"
	case AngleBackLeft:
		return "↙"
	case AngleBackRight:
		return "↘"
	default:
		return "·"
	}
}

// BadgeFor maps an angle to a short badge label.
func BadgeFor(a Angle) string {
	switch a {
	case AngleFront:
		return "F"
	case AngleFrontLeft:
		return "FL"
	case AngleFrontRight:
		return "FR"
	case AngleSideLeft:
		return "SL"
	case AngleSideRight:
		return "SR"
	case AngleBack:
		return "B"
	case AngleBackLeft:
		return "BL"
	case AngleBackRight:
		return "BR"
	default:
		return "?"
	}
}

// ColorFor maps an angle to a presentation color; unknown gets a neutral gray.
func ColorFor(a Angle) string {
	switch a {
	case AngleFront, AngleBack:
		return "#2563eb"
	case AngleFrontLeft, AngleFrontRight:
		return "#0891b2"
	case AngleBackLeft, AngleBackRight:
		return "#7c3aed"
	case AngleSideLeft, AngleSideRight:
		return "#059669"
	default:
		return "#9ca3af"
	}
}

// Source records which actor produced a classification.
type Source string

const (
	SourceUser      Source = "user"
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
	SourceCache     Source = "cache"
	SourceNone      Source = ""
)

// Rank orders write priority: user > model > heuristic > cache > unset.
func (s Source) Rank() int {
	switch s {
	case SourceUser:
		return 4
	case SourceModel:
		return 3
	case SourceHeuristic:
		return 2
	case SourceCache:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether a write tagged s must never be clobbered by
// a write tagged other.
func (s Source) Outranks(other Source) bool {
	return s.Rank() > other.Rank()
}

func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case SourceUser, SourceModel, SourceHeuristic, SourceCache, SourceNone:
		return s, nil
	}
	return SourceNone, WrapError(ErrInvalidInput, "parse source", fmt.Errorf("unknown source %q", raw))
}

// Category partitions images into the three upload buckets.
type Category string

const (
	CategoryExterior Category = "exterior"
	CategoryInterior Category = "interior"
	CategoryDocument Category = "document"
)

func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryExterior, CategoryInterior, CategoryDocument:
		return c, nil
	}
	return "", WrapError(ErrInvalidInput, "parse category", errors.New("category must be exterior, interior or document"))
}
