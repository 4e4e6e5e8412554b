package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestLoadScenarioDefaultsVendorFields(t *testing.T) {
	t.Parallel()

	path := writeScenario(t, `{
		"product": {"name": "Bearings", "quantity": 10, "starting_price": 100},
		"vendors": [
			{"id": "v1", "name": "Acme", "external_id": "sales@acme.test", "behavior": "firm"},
			{"id": "v2"}
		]
	}`)

	sc, ids, err := loadScenario(path)
	if err != nil {
		t.Fatalf("loadScenario() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "v1" || ids[1] != "v2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if sc.Vendors[0].ExternalID != "sales@acme.test" || sc.Vendors[0].Behavior != "firm" {
		t.Fatalf("unexpected first vendor: %+v", sc.Vendors[0])
	}
	if sc.Vendors[1].ExternalID != "v2" || sc.Vendors[1].Name != "v2" {
		t.Fatalf("defaults not applied: %+v", sc.Vendors[1])
	}
	if sc.Product.StartingPrice == nil || *sc.Product.StartingPrice != 100 {
		t.Fatalf("unexpected product: %+v", sc.Product)
	}
}

func TestLoadScenarioRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no vendors":   `{"product": {"name": "B", "quantity": 1}, "vendors": []}`,
		"bad product":  `{"product": {"name": "", "quantity": 1}, "vendors": [{"id": "v"}]}`,
		"missing id":   `{"product": {"name": "B", "quantity": 1}, "vendors": [{"name": "x"}]}`,
		"invalid json": `{`,
	}
	for name, body := range cases {
		if _, _, err := loadScenario(writeScenario(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if _, _, err := loadScenario(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
