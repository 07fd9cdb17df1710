package content

// FallbackTable holds canned narrative lines keyed by action type and
// outcome. Lookup degrades to a generic line when no specific entry exists.
type FallbackTable map[string]map[string][]string

// DefaultFallbackTable covers the common action types shipped with the game.
var DefaultFallbackTable = FallbackTable{
	"heist": {
		"success": {
			"The crew slipped out before the alarm sounded, bags heavy.",
			"Clean entry, clean exit. Nobody even looked up.",
		},
		"failure": {
			"The vault held. Sirens closed in and the crew scattered.",
			"A jumpy guard, a tripped wire, and a long night of running.",
		},
	},
	"smuggle": {
		"success": {
			"The shipment crossed the river under a quiet moon.",
			"Crates moved, palms greased, ledgers clean.",
		},
		"failure": {
			"The checkpoint was waiting. The cargo never made it.",
			"Word got out. The dock crawled with badges by midnight.",
		},
	},
	"bribe": {
		"success": {"The envelope disappeared into a coat pocket. Doors opened."},
		"failure": {"The official's smile vanished. That conversation never happened."},
	},
}

var genericLines = map[string][]string{
	"success": {
		"The job went smoother than anyone expected.",
		"Everything fell into place. For once.",
	},
	"failure": {
		"It went wrong from the first move.",
		"Bad luck, or a loose tongue. Either way, it failed.",
	},
}

// Line returns a deterministic fallback line for the request.
func (t FallbackTable) Line(req NarrativeRequest) string {
	if byOutcome, ok := t[req.ActionType]; ok {
		if lines, ok := byOutcome[req.Outcome]; ok && len(lines) > 0 {
			return lines[pick(req, len(lines))]
		}
	}
	lines, ok := genericLines[req.Outcome]
	if !ok || len(lines) == 0 {
		lines = genericLines["failure"]
	}
	return lines[pick(req, len(lines))]
}
