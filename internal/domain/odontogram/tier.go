package odontogram

import (
	"fmt"
	"strings"
)

// Tier is the clinical urgency of a diagnosis category. Lower values take
// precedence when several findings overlap on one surface.
type Tier int

const (
	TierUnknown Tier = iota
	TierCritica
	TierAlta
	TierMedia
	TierBaja
	TierInformativa
)

var tierNames = map[Tier]string{
	TierCritica:     "CRITICA",
	TierAlta:        "ALTA",
	TierMedia:       "MEDIA",
	TierBaja:        "BAJA",
	TierInformativa: "INFORMATIVA",
}

// Priority is the numeric precedence copied onto entries.
func (t Tier) Priority() int { return int(t) }

func (t Tier) Valid() bool { return t >= TierCritica && t <= TierInformativa }

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseTier accepts tier names case and accent insensitively.
func ParseTier(s string) (Tier, error) {
	key := strings.ToUpper(foldText(s))
	for t, name := range tierNames {
		if name == key {
			return t, nil
		}
	}
	return TierUnknown, fmt.Errorf("unknown priority tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ColorClass is the display color family of a category.
type ColorClass string

const (
	ColorUnset       ColorClass = ""
	ColorPathology   ColorClass = "pathology"
	ColorRestoration ColorClass = "restoration"
	ColorAbsence     ColorClass = "absence"
	ColorTreatment   ColorClass = "treatment"
	ColorProsthesis  ColorClass = "prosthesis"
	ColorObservation ColorClass = "observation"
)

// Hex returns the display color of the class.
func (c ColorClass) Hex() (string, error) {
	switch c {
	case ColorPathology:
		return "#E53935", nil
	case ColorRestoration:
		return "#1E88E5", nil
	case ColorAbsence:
		return "#212121", nil
	case ColorTreatment:
		return "#43A047", nil
	case ColorProsthesis:
		return "#FB8C00", nil
	case ColorObservation:
		return "#9E9E9E", nil
	case ColorUnset:
		return "", fmt.Errorf("color class not set")
	default:
		return "", fmt.Errorf("unknown color class %q", string(c))
	}
}

func (c ColorClass) Valid() bool {
	_, err := c.Hex()
	return err == nil
}
