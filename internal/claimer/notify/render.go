package notify

import (
	"fmt"
	"strings"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
)

// RenderRunReport produces the notification text for a finished pass.
// Quiet runs (nothing claimed, nothing failed, no error) render to the
// empty string so uneventful scheduled passes stay silent.
func RenderRunReport(r domain.RunReport) string {
	if r.Err != "" {
		return fmt.Sprintf("Run failed (%s): %s", r.Trigger, r.Err)
	}

	claimed := r.Claimed()
	failed := r.Failed()
	if len(claimed) == 0 && len(failed) == 0 && !r.CheckOnly {
		return ""
	}

	var sb strings.Builder
	if r.CheckOnly {
		eligible := 0
		for _, o := range r.Outcomes {
			if o.Status == domain.ClaimStatusEligible {
				eligible++
			}
		}
		if eligible == 0 {
			return "Nothing new to claim."
		}
		fmt.Fprintf(&sb, "%d item(s) waiting to be claimed:\n", eligible)
		for _, o := range r.Outcomes {
			if o.Status == domain.ClaimStatusEligible {
				fmt.Fprintf(&sb, "- %s\n", o.Title)
			}
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	for _, o := range claimed {
		if o.Status == domain.ClaimStatusAlreadyOwned {
			fmt.Fprintf(&sb, "Already owned: %s\n", o.Title)
		} else {
			fmt.Fprintf(&sb, "Claimed: %s\n", o.Title)
		}
	}
	for _, o := range failed {
		fmt.Fprintf(&sb, "Failed: %s (%s)\n", o.Title, o.Detail)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderCodeRequired asks for the second factor.
func RenderCodeRequired(ev domain.CodeRequiredEvent) string {
	return fmt.Sprintf(
		"Two-factor code required (%s). Reply with /tfa <code> before %s.",
		ev.Method, ev.ExpiresAt.UTC().Format("15:04 MST"))
}

// RenderChallengeAbandoned reports a dropped challenge.
func RenderChallengeAbandoned(ev domain.ChallengeAbandonedEvent) string {
	return "Two-factor challenge abandoned: " + ev.Reason + ". The run was not completed."
}
