package odontogram

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("", zerolog.Nop())
	if err != nil {
		t.Fatalf("load embedded catalog: %v", err)
	}
	return c
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	n := 0
	return NewSession(newTestCatalog(t), DefaultTaxonomy(), zerolog.Nop(),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("e%d", n)
		}),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }),
	)
}

func mustApply(t *testing.T, s *Session, req ApplyRequest) Batch {
	t.Helper()
	b, err := s.Apply(req)
	if err != nil {
		t.Fatalf("apply %s on %s %v: %v", req.ProcedureID, req.ToothID, req.SurfaceIDs, err)
	}
	return b
}

func cariesOn(tooth string, surfaces ...string) ApplyRequest {
	return ApplyRequest{ToothID: tooth, SurfaceIDs: surfaces, ProcedureID: "caries_profunda", Areas: []Area{AreaCrown}}
}

func restorationOn(tooth string, surfaces ...string) ApplyRequest {
	return ApplyRequest{ToothID: tooth, SurfaceIDs: surfaces, ProcedureID: "restauracion_existente", Areas: []Area{AreaCrown}}
}

func extractionOf(tooth string) ApplyRequest {
	return ApplyRequest{ToothID: tooth, SurfaceIDs: []string{SurfaceGeneral}, ProcedureID: "extraccion", Areas: []Area{AreaWholeTooth}}
}
