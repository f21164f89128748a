package botguard

import (
	"fmt"
	"strings"
	"time"
)

// NoticeBuilder renders the warning text delivered over warn channels. The
// wording states observed facts and asks the operator to stop; it makes no
// legal claims.
type NoticeBuilder struct {
	// Operator is the name shown as the sender of the notice.
	Operator string
	// Contact is an optional abuse contact appended to the notice.
	Contact string
}

func NewNoticeBuilder(operator, contact string) *NoticeBuilder {
	if operator == "" {
		operator = "botguard"
	}
	return &NoticeBuilder{Operator: operator, Contact: contact}
}

// Build renders the notice for one actor record.
func (b *NoticeBuilder) Build(record *ActorRecord) string {
	var sb strings.Builder
	sb.WriteString("=== AUTOMATED ABUSE NOTICE ===\n")
	fmt.Fprintf(&sb, "Issued by: %s\n", b.Operator)
	fmt.Fprintf(&sb, "Issued at: %s\n", time.Now().UTC().Format(time.RFC3339))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Traffic from %s has been classified as hostile.\n", record.Address)
	fmt.Fprintf(&sb, "Observed events: %d (first %s, last %s)\n",
		record.AttackCount,
		record.FirstSeen.UTC().Format(time.RFC3339),
		record.LastSeen.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Current threat tier: %s (score %d)\n", record.Tier, record.Score)
	sb.WriteString("\n")
	sb.WriteString("All activity from this source is being recorded.\n")
	sb.WriteString("Stop scanning, probing, or injecting traffic at this service.\n")
	sb.WriteString("Continued activity triggers automated counter-measures.\n")
	if b.Contact != "" {
		fmt.Fprintf(&sb, "\nContact for disputes: %s\n", b.Contact)
	}
	return sb.String()
}
