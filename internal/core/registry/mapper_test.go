package registry

import "testing"

func TestExtractListHandlesEnvelopeShapes(t *testing.T) {
	cases := map[string]int{
		`[{"mbs":"1"},{"mbs":"2"}]`:                 2,
		`{"items":[{"mbs":"1"}]}`:                   1,
		`{"results":[{"mbs":"1"},{"mbs":"2"}]}`:     2,
		`{"content":[{"mbs":"1"}]}`:                 1,
		`{"rezultati":[{"mbs":"1"}]}`:               1,
		`{"data":[{"mbs":"1"},{"mbs":"2"},{}]}`:     3,
		`{"data":{"items":[{"mbs":"1"}]}}`:          1,
		`{"total":3}`:                               0,
		`"oops"`:                                    0,
		`null`:                                      0,
	}
	for raw, want := range cases {
		got := ExtractList(ParseOrNull([]byte(raw)))
		if got == nil {
			t.Fatalf("ExtractList(%s) returned nil slice", raw)
		}
		if len(got) != want {
			t.Fatalf("ExtractList(%s) = %d records, want %d", raw, len(got), want)
		}
	}
}

func TestExtractListPrefersItemsOverData(t *testing.T) {
	doc := ParseOrNull([]byte(`{"data":[{"mbs":"d"}],"items":[{"mbs":"i"}]}`))
	got := ExtractList(doc)
	if len(got) != 1 || got[0].At("mbs").Text() != "i" {
		t.Fatalf("expected items container to win, got %v", got)
	}
}

func TestUnwrapDetail(t *testing.T) {
	wrapped := ParseOrNull([]byte(`{"subjekt":{"mbs":"080000001"}}`))
	if got := UnwrapDetail(wrapped).At("mbs").Text(); got != "080000001" {
		t.Fatalf("expected unwrapped mbs, got %q", got)
	}
	bare := ParseOrNull([]byte(`{"mbs":"080000002"}`))
	if got := UnwrapDetail(bare).At("mbs").Text(); got != "080000002" {
		t.Fatalf("expected input unchanged, got %q", got)
	}
}

func TestMapToCanonicalListShape(t *testing.T) {
	rec := ParseOrNull([]byte(`{"mbs":"080000001","oib":"12345678901","naziv":"Primjer d.o.o.","grad":"Zagreb","adresa":"Ilica 1"}`))
	got := MapToCanonical(rec)
	if got.MBS != "080000001" || got.OIB != "12345678901" || got.Name != "Primjer d.o.o." {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.City != "Zagreb" || got.Address != "Ilica 1" {
		t.Fatalf("unexpected location: %+v", got)
	}
}

func TestMapToCanonicalDetailShapeWithSyntheticAddress(t *testing.T) {
	rec := ParseOrNull([]byte(`{
		"subjekt": {
			"potpuni_mbs": 80000001,
			"tvrtka": {"ime": "Primjer d.o.o."},
			"sud_nadlezan": {"sifra": 1, "naziv": "Trgovački sud u Zagrebu"},
			"sjediste": {"naziv_naselja": "Split", "ulica": "Riva", "kucni_broj": 7},
			"web_adrese": [{"adresa": "https://primjer.hr"}]
		}
	}`))
	got := MapToCanonical(rec)
	if got.MBS != "80000001" {
		t.Fatalf("expected numeric mbs to be read as text, got %q", got.MBS)
	}
	if got.Name != "Primjer d.o.o." || got.Court != "Trgovački sud u Zagrebu" {
		t.Fatalf("unexpected name/court: %+v", got)
	}
	if got.City != "Split" {
		t.Fatalf("expected city Split, got %q", got.City)
	}
	if got.Address != "Riva 7, Split" {
		t.Fatalf("expected synthetic address, got %q", got.Address)
	}
	if got.Website != "https://primjer.hr" {
		t.Fatalf("expected website, got %q", got.Website)
	}
}

func TestMapToCanonicalIsTotal(t *testing.T) {
	for _, raw := range []string{`null`, `[]`, `42`, `{"tvrtka":null,"sjediste":[1,2]}`} {
		got := MapToCanonical(ParseOrNull([]byte(raw)))
		if got.MBS != "" || got.Name != "" || got.Address != "" {
			t.Fatalf("expected empty mapping for %s, got %+v", raw, got)
		}
	}
}

func TestMergeCanonicalPrefersPrimary(t *testing.T) {
	detail := MapToCanonical(ParseOrNull([]byte(`{"mbs":"1","tvrtka":{"ime":"Detail"}}`)))
	list := MapToCanonical(ParseOrNull([]byte(`{"mbs":"1","naziv":"List","grad":"Osijek"}`)))
	got := MergeCanonical(detail, list)
	if got.Name != "Detail" {
		t.Fatalf("expected detail name to win, got %q", got.Name)
	}
	if got.City != "Osijek" {
		t.Fatalf("expected list city as fallback, got %q", got.City)
	}
}
