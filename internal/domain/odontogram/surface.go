package odontogram

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SurfaceGeneral files an entry against the whole tooth. It never coexists
// with other surfaces of the same tooth.
const SurfaceGeneral = "general"

const (
	crownPrefix = "cara_"
	rootPrefix  = "raiz_"
)

// Crown faces in canonical display order.
const (
	SurfaceOclusal    = "cara_oclusal"
	SurfaceVestibular = "cara_vestibular"
	SurfaceDistal     = "cara_distal"
	SurfaceMesial     = "cara_mesial"
	SurfaceLingual    = "cara_lingual"
)

// Root faces.
const (
	RootMesial     = "raiz_mesial"
	RootDistal     = "raiz_distal"
	RootPalatina   = "raiz_palatina"
	RootVestibular = "raiz_vestibular"
	RootUnica      = "raiz_unica"
)

// CrownSurfaces lists the five crown faces every tooth has.
var CrownSurfaces = []string{SurfaceOclusal, SurfaceVestibular, SurfaceDistal, SurfaceMesial, SurfaceLingual}

// faceAliases maps producer-specific face names onto the canonical face name.
var faceAliases = map[string]string{
	"incisal":  "oclusal",
	"occlusal": "oclusal",
	"palatal":  "palatina",
	"palatino": "palatina",
	"buccal":   "vestibular",
	"bucal":    "vestibular",
	"single":   "unica",
	"unico":    "unica",
}

var crownFaces = map[string]bool{"oclusal": true, "vestibular": true, "distal": true, "mesial": true, "lingual": true}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldText lowercases s and removes diacritics so "Raíz" and "raiz" compare equal.
func foldText(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// NormalizeSurfaceID maps any of the separator styles seen in the wild
// ("raiz:mesial", "raiz-mesial", "Raíz_Mesial", "cara oclusal", "oclusal")
// onto the canonical grammar:
//
//	general | cara_<face> | raiz_<face>
//
// Unrecognized input is returned folded but otherwise untouched so callers can
// still reject it against the tooth's valid surface set.
func NormalizeSurfaceID(id string) string {
	s := foldText(id)
	if s == "" {
		return ""
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '.', '/':
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")

	switch s {
	case SurfaceGeneral, "whole_tooth", "diente":
		return SurfaceGeneral
	case "raiz":
		return RootUnica
	}

	switch {
	case strings.HasPrefix(s, rootPrefix):
		return rootPrefix + canonicalFace(strings.TrimPrefix(s, rootPrefix))
	case strings.HasPrefix(s, "root_"):
		return rootPrefix + canonicalFace(strings.TrimPrefix(s, "root_"))
	case strings.HasPrefix(s, crownPrefix):
		return crownPrefix + canonicalFace(strings.TrimPrefix(s, crownPrefix))
	}

	if face := canonicalFace(s); crownFaces[face] {
		return crownPrefix + face
	}
	return s
}

func canonicalFace(face string) string {
	if alias, ok := faceAliases[face]; ok {
		return alias
	}
	return face
}

// NormalizeSurfaceIDs normalizes and deduplicates ids, preserving first-seen order.
func NormalizeSurfaceIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		n := NormalizeSurfaceID(id)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// IsCrownSurface reports whether a canonical id names a crown face.
func IsCrownSurface(id string) bool {
	return strings.HasPrefix(id, crownPrefix)
}

// IsRootSurface reports whether a canonical id names a root face.
func IsRootSurface(id string) bool {
	return strings.HasPrefix(id, rootPrefix)
}

// SurfaceLabel returns a short human readable label for a canonical id.
func SurfaceLabel(id string) string {
	switch {
	case id == SurfaceGeneral:
		return "diente completo"
	case IsCrownSurface(id):
		return strings.TrimPrefix(id, crownPrefix)
	case IsRootSurface(id):
		return "raíz " + strings.TrimPrefix(id, rootPrefix)
	}
	return id
}
