package subagent

// allowlistedEnvVars are the only system variables ever copied from
// the parent process into a subagent child's environment (spec.md
// §4.6/§5). Everything else must come from CredentialVars.
var allowlistedEnvVars = []string{
	"PATH", "HOME", "TERM", "SHELL", "LANG", "LC_ALL", "USER", "LOGNAME",
}

// CredentialVars is the fixed provider → credential-variable-names
// table spec.md §9 calls for ("a pure function provider → {primary
// var, passthrough vars[]}"). The subprocess environment builder
// composes the allowlisted system vars with exactly the vars this
// function returns for the task's provider.
func CredentialVars(provider string) []string {
	switch provider {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY", "OPENAI_ORG_ID"}
	default:
		return nil
	}
}

// CredentialResolver resolves the actual values for the credential
// variables a provider needs. It must be called, and must succeed,
// for every task before any subprocess for that batch is spawned
// (spec.md §4.6) — a late resolve failure must never orphan an
// already-running sibling child.
type CredentialResolver func(provider string) (map[string]string, error)
