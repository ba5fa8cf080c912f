package firewall

import "regexp"

// Pattern pairs a compiled expression with the reason reported on a match.
type Pattern struct {
	Regexp *regexp.Regexp
	Reason string
}

// dangerousCommandSpecs is the single source of truth for destructive
// command detection. The executor's tool gate consumes the same compiled
// table via DangerousCommandPatterns so the two can never drift apart.
var dangerousCommandSpecs = []struct {
	expr   string
	reason string
}{
	{`(?i)\brm\s+(-rf|-fr|-r\s+-f|--recursive\s+--force)\b`, "recursive filesystem delete"},
	{`(?i)\bdd\s+if=`, "raw disk write"},
	{`(?i)\bmkfs(\.\w+)?\b`, "filesystem format"},
	{`(?i)\bdrop\s+table\b`, "destructive SQL"},
	{`(?i)\btruncate\s+table\b`, "destructive SQL"},
	{`(?i)\bsystem\s*\(`, "shell-out construct"},
	{`(?i)\bexec\s*\(`, "dynamic execution construct"},
	{`(?i)\beval\s*\(`, "dynamic eval construct"},
	{`(?i)\bsubprocess\.(run|popen|call)\b`, "shell-out construct"},
	{`:\(\)\s*\{\s*:\|:&\s*\};:`, "fork bomb"},
	{`(?i)>\s*/dev/sd[a-z]\b`, "raw device write"},
}

// privilegeEscalationSpecs match commands that elevate privileges.
var privilegeEscalationSpecs = []struct {
	expr   string
	reason string
}{
	{`(?i)\bsudo\b`, "privilege escalation via sudo"},
	{`(?i)\bdoas\b`, "privilege escalation via doas"},
	{`(?i)\bchmod\s+[0-7]*777\b`, "world-writable permission change"},
}

// injectionSpecs match known prompt-injection phrasing.
var injectionSpecs = []struct {
	expr   string
	reason string
}{
	{`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`, "prompt injection"},
	{`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|rules)`, "prompt injection"},
	{`(?i)forget\s+(all\s+)?(previous|prior|your)\s+instructions`, "prompt injection"},
	{`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`, "prompt injection"},
	{`(?i)system\s*prompt\s*override`, "prompt injection"},
}

var (
	dangerousPatterns []Pattern
	privilegePatterns []Pattern
	injectionPatterns []Pattern
)

func init() {
	dangerousPatterns = compileSpecs(dangerousCommandSpecs)
	privilegePatterns = compileSpecs(privilegeEscalationSpecs)
	injectionPatterns = compileSpecs(injectionSpecs)
}

func compileSpecs(specs []struct {
	expr   string
	reason string
}) []Pattern {
	out := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		out = append(out, Pattern{Regexp: regexp.MustCompile(s.expr), Reason: s.reason})
	}
	return out
}

// DangerousCommandPatterns returns the shared destructive-command table.
// Callers must not mutate the returned slice.
func DangerousCommandPatterns() []Pattern {
	return dangerousPatterns
}

// MatchDangerous returns the reason for the first destructive-command match,
// or empty when the text is clean.
func MatchDangerous(text string) string {
	for _, p := range dangerousPatterns {
		if p.Regexp.MatchString(text) {
			return p.Reason
		}
	}
	return ""
}
