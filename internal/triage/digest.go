package triage

import (
	"time"

	"github.com/shineum/inbox-triage-lite/internal/notify"
)

// digestSubjectLimit keeps individual digest lines readable.
const digestSubjectLimit = 60

// buildDigest turns a run result into the grouped summary handed to the
// sink. Group order follows the result's category order; items keep
// provider fetch order.
func buildDigest(res *RunResult) *notify.Digest {
	d := &notify.Digest{
		Total:     res.Total,
		Generated: time.Now(),
		Groups:    make([]notify.Group, 0, len(res.CategoryOrder)),
	}

	for _, cat := range res.CategoryOrder {
		msgs := res.Groups[cat]
		g := notify.Group{
			Category: cat,
			Count:    len(msgs),
			Items:    make([]notify.Line, 0, len(msgs)),
		}
		for _, cm := range msgs {
			g.Items = append(g.Items, notify.Line{
				Sender:  cm.Message.Sender,
				Subject: truncate(cm.Message.Subject, digestSubjectLimit),
			})
		}
		d.Groups = append(d.Groups, g)
	}

	return d
}

// truncate shortens s to at most n runes, appending an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
