package odontogram

import "testing"

func TestGroupSurfaces_FullCrownCollapses(t *testing.T) {
	sel := []string{"cara_lingual", "mesial", "cara_oclusal", "cara-distal", "cara_vestibular"}
	got := GroupSurfaces(sel, RootTypeUpperMolar)
	if len(got) != 1 {
		t.Fatalf("expected one group, got %+v", got)
	}
	g := got[0]
	if g.Type != GroupKindGroup || g.Label != LabelFullCrown || len(g.Surfaces) != 5 {
		t.Fatalf("unexpected group %+v", g)
	}
	for i, want := range CrownSurfaces {
		if g.Surfaces[i] != want {
			t.Errorf("surface %d = %s, want %s", i, g.Surfaces[i], want)
		}
	}
}

func TestGroupSurfaces_FullRootByRootType(t *testing.T) {
	got := GroupSurfaces([]string{"raiz_distal", "raiz_mesial"}, RootTypeLowerMolar)
	if len(got) != 1 || got[0].Label != LabelFullRoot {
		t.Fatalf("expected full root on lower molar, got %+v", got)
	}
	got = GroupSurfaces([]string{"raiz_distal", "raiz_mesial"}, RootTypeUpperMolar)
	if len(got) != 2 || got[0].Type != GroupKindSingle || got[0].Surface != RootMesial || got[1].Surface != RootDistal {
		t.Fatalf("expected two singles in canonical order on upper molar, got %+v", got)
	}
	got = GroupSurfaces([]string{"raiz"}, RootTypeIncisor)
	if len(got) != 1 || got[0].Label != LabelFullRoot || got[0].Surfaces[0] != RootUnica {
		t.Fatalf("expected single-root tooth to collapse, got %+v", got)
	}
}

func TestGroupSurfaces_CrownBeforeRoot(t *testing.T) {
	sel := append([]string{"raiz_vestibular", "raiz_palatina"}, CrownSurfaces...)
	got := GroupSurfaces(sel, RootTypeUpperPremolar)
	if len(got) != 2 || got[0].Label != LabelFullCrown || got[1].Label != LabelFullRoot {
		t.Fatalf("unexpected groups %+v", got)
	}
}

func TestGroupSurfaces_PartialAndEmpty(t *testing.T) {
	got := GroupSurfaces([]string{"cara_oclusal", "cara_mesial", "general"}, RootTypeCanine)
	if len(got) != 2 {
		t.Fatalf("expected two singles, general ignored, got %+v", got)
	}
	if got[0].Surface != SurfaceOclusal || got[1].Surface != SurfaceMesial {
		t.Errorf("unexpected order %+v", got)
	}
	if len(GroupSurfaces(nil, RootTypeCanine)) != 0 {
		t.Error("expected no items for empty selection")
	}
}
