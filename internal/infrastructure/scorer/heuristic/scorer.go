// Package heuristic scores vehicle photo viewpoints from filename tokens.
// It is deterministic and needs no external call, which makes it the cheap
// first stage of the classification pipeline.
package heuristic

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/carsnap/angle-review/internal/core/domain"
)

const (
	confidenceCompound = 0.9
	confidenceCode     = 0.85
	confidenceSingle   = 0.75
	confidenceWeak     = 0.6
)

type Scorer struct{}

func New() *Scorer {
	return &Scorer{}
}

// Score derives an angle from the tokens of the image's file name. The same
// URL always yields the same label and confidence. A URL with no directional
// tokens comes back as unknown with zero confidence, not as an error.
func (s *Scorer) Score(_ context.Context, rawURL string) (domain.Angle, float64, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.AngleUnknown, 0, fmt.Errorf("parse image url: %w", err)
	}
	name := strings.ToLower(path.Base(parsed.Path))
	name = strings.TrimSuffix(name, path.Ext(name))
	tokens := tokenize(name)

	if angle, ok := codeToken(tokens); ok {
		return angle, confidenceCode, nil
	}

	front := tokens["front"]
	back := tokens["back"] || tokens["rear"]
	left := tokens["left"]
	right := tokens["right"]
	side := tokens["side"] || tokens["profile"]

	switch {
	case front && left:
		return domain.AngleFrontLeft, confidenceCompound, nil
	case front && right:
		return domain.AngleFrontRight, confidenceCompound, nil
	case back && left:
		return domain.AngleBackLeft, confidenceCompound, nil
	case back && right:
		return domain.AngleBackRight, confidenceCompound, nil
	case side && left:
		return domain.AngleSideLeft, confidenceCompound, nil
	case side && right:
		return domain.AngleSideRight, confidenceCompound, nil
	case front:
		return domain.AngleFront, confidenceSingle, nil
	case back:
		return domain.AngleBack, confidenceSingle, nil
	case left:
		return domain.AngleSideLeft, confidenceWeak, nil
	case right:
		return domain.AngleSideRight, confidenceWeak, nil
	}
	return domain.AngleUnknown, 0, nil
}

func tokenize(name string) map[string]bool {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		switch r {
		case '_', '-', '.', ' ', '(', ')':
			return true
		}
		return false
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}

// Checked in fixed order so multi-code names resolve deterministically.
var angleCodes = []struct {
	code  string
	angle domain.Angle
}{
	{"fl", domain.AngleFrontLeft},
	{"fr", domain.AngleFrontRight},
	{"bl", domain.AngleBackLeft},
	{"br", domain.AngleBackRight},
	{"sl", domain.AngleSideLeft},
	{"sr", domain.AngleSideRight},
}

func codeToken(tokens map[string]bool) (domain.Angle, bool) {
	for _, c := range angleCodes {
		if tokens[c.code] {
			return c.angle, true
		}
	}
	return domain.AngleUnknown, false
}
