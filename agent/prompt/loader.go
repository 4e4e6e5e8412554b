package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

var (
	//go:embed template/negotiator.txt
	negotiatorRaw string

	//go:embed template/vendor.txt
	vendorRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Negotiator string
	Vendor     string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Negotiator: strings.TrimSpace(negotiatorRaw),
		Vendor:     strings.TrimSpace(vendorRaw),
	}
}

func (p PromptSet) Validate() error {
	if p.Negotiator == "" {
		return fmt.Errorf("%w: negotiator", contractx.ErrPromptMissing)
	}
	if p.Vendor == "" {
		return fmt.Errorf("%w: vendor", contractx.ErrPromptMissing)
	}
	return nil
}
