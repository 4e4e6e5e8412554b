package prompt

import (
	"fmt"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

var objectives = []string{
	"Reach the lowest possible total price for the requested quantity.",
	"Secure clear delivery and warranty terms.",
	"Finish with finish_negotiation once the vendor will not move further.",
}

// ComposeInstructions merges the fixed strategy prompt with the vendor's
// behavior profile and the product constraints.
func ComposeInstructions(strategy string, behavior *string, product contractx.Product) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(strategy))

	if behavior != nil && strings.TrimSpace(*behavior) != "" {
		b.WriteString("\n\n## Vendor behavior profile\n")
		b.WriteString(strings.TrimSpace(*behavior))
		b.WriteString("\nAdapt your tone and assertiveness to this profile.")
	}

	b.WriteString("\n\n## Product\n")
	fmt.Fprintf(&b, "- Name: %s\n", product.Name)
	fmt.Fprintf(&b, "- Quantity: %d\n", product.Quantity)
	if product.StartingPrice != nil {
		fmt.Fprintf(&b, "- Starting price: %s\n", formatAmount(*product.StartingPrice))
	}
	if product.TargetReductionPct != nil {
		fmt.Fprintf(&b, "- Target reduction: %s%%\n", formatAmount(*product.TargetReductionPct))
	}
	if target, ok := product.TargetPrice(); ok {
		fmt.Fprintf(&b, "- Target price: %s\n", formatAmount(target))
	}

	b.WriteString("\n## Objectives\n")
	for i, o := range objectives {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	return strings.TrimSpace(b.String())
}

// WithLeverage prepends a per-turn leverage note to the instructions.
func WithLeverage(instructions, announcement string) string {
	announcement = strings.TrimSpace(announcement)
	if announcement == "" {
		return instructions
	}
	return "## Leverage context for this turn\n" + announcement + "\n\n" + instructions
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
