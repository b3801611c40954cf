package odontogram

import "strings"

// DefaultBlockingProcedures are the catalog ids of absence and extraction findings.
var DefaultBlockingProcedures = []string{"extraccion", "diente_ausente", "perdida_dental"}

// DefaultBlockingKeywords match blocking findings by display name. Keywords
// are compared after folding case and accents, so "Extracción" matches "extraccion".
var DefaultBlockingKeywords = []string{"ausente", "extraccion", "perdida"}

// BlockingEvaluator classifies findings that invalidate every other finding
// on the same tooth.
type BlockingEvaluator struct {
	ids      map[string]struct{}
	keywords []string
}

// NewBlockingEvaluator matches by exact procedure id or by keyword on the name.
func NewBlockingEvaluator(procedureIDs, keywords []string) *BlockingEvaluator {
	b := &BlockingEvaluator{ids: make(map[string]struct{}, len(procedureIDs))}
	for _, id := range procedureIDs {
		b.ids[id] = struct{}{}
	}
	for _, k := range keywords {
		if k = foldText(k); k != "" {
			b.keywords = append(b.keywords, k)
		}
	}
	return b
}

func DefaultBlockingEvaluator() *BlockingEvaluator {
	return NewBlockingEvaluator(DefaultBlockingProcedures, DefaultBlockingKeywords)
}

func (b *BlockingEvaluator) matches(procedureID, name string) bool {
	if _, ok := b.ids[procedureID]; ok {
		return true
	}
	if name == "" {
		return false
	}
	folded := foldText(name)
	for _, k := range b.keywords {
		if strings.Contains(folded, k) {
			return true
		}
	}
	return false
}

// IsBlocking reports whether the entry is an absence or extraction finding.
func (b *BlockingEvaluator) IsBlocking(e Entry) bool {
	return b.matches(e.ProcedureID, e.Name)
}

// IsBlockingDefinition applies the same classification to a catalog definition.
func (b *BlockingEvaluator) IsBlockingDefinition(d Definition) bool {
	return b.matches(d.ID, d.Name)
}

// IsBlocked reports whether any of the entries is blocking.
func (b *BlockingEvaluator) IsBlocked(entries []Entry) bool {
	for _, e := range entries {
		if b.IsBlocking(e) {
			return true
		}
	}
	return false
}
