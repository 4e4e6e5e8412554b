package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	vendorsimx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/vendorsim"
)

// Scenario is one purchase intent negotiated with several vendors at once.
type Scenario struct {
	Product contractx.Product    `json:"product"`
	Vendors []vendorsimx.Profile `json:"vendors"`
}

type scenarioVendor struct {
	vendorsimx.Profile
	ID string `json:"id"`
}

func loadScenario(path string) (Scenario, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, nil, fmt.Errorf("read scenario: %w", err)
	}

	var doc struct {
		Product contractx.Product `json:"product"`
		Vendors []scenarioVendor  `json:"vendors"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Scenario{}, nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := doc.Product.Validate(); err != nil {
		return Scenario{}, nil, err
	}
	if len(doc.Vendors) == 0 {
		return Scenario{}, nil, errors.New("scenario has no vendors")
	}

	sc := Scenario{Product: doc.Product}
	ids := make([]string, 0, len(doc.Vendors))
	for i, v := range doc.Vendors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return Scenario{}, nil, fmt.Errorf("vendors[%d].id is required", i)
		}
		if strings.TrimSpace(v.ExternalID) == "" {
			v.ExternalID = id
		}
		if strings.TrimSpace(v.Name) == "" {
			v.Name = id
		}
		sc.Vendors = append(sc.Vendors, v.Profile)
		ids = append(ids, id)
	}
	return sc, ids, nil
}
