package core

// Capability is a declared unit of functionality used to match tasks to
// workers. Workers advertise a capability set; tasks require exactly one
// capability derived from their kind.
type Capability string

// Built-in capabilities. Custom capabilities are free-form strings produced
// by CustomCapability and matched verbatim.
const (
	CapCommitMessages   Capability = "commit-messages"
	CapCodeAnalysis     Capability = "code-analysis"
	CapCodeReview       Capability = "code-review"
	CapSemanticSearch   Capability = "semantic-search"
	CapDocGeneration    Capability = "doc-generation"
	CapRefactoring      Capability = "refactoring"
	CapTestGeneration   Capability = "test-generation"
	CapWorkflowAnalysis Capability = "workflow-analysis"
	CapRemoteResources  Capability = "remote-resources"
	CapRemoteTools      Capability = "remote-tools"
)

const customPrefix = "custom:"

// CustomCapability returns the capability matching a custom task kind with
// the given name.
func CustomCapability(name string) Capability { return Capability(customPrefix + name) }

// DisplayName returns a human readable name for the capability.
func (c Capability) DisplayName() string {
	switch c {
	case CapCommitMessages:
		return "Commit Message Generation"
	case CapCodeAnalysis:
		return "Code Analysis"
	case CapCodeReview:
		return "Code Review"
	case CapSemanticSearch:
		return "Semantic Search"
	case CapDocGeneration:
		return "Documentation Generation"
	case CapRefactoring:
		return "Code Refactoring"
	case CapTestGeneration:
		return "Test Generation"
	case CapWorkflowAnalysis:
		return "Workflow Analysis"
	case CapRemoteResources:
		return "Remote Resource Access"
	case CapRemoteTools:
		return "Remote Tool Execution"
	default:
		return string(c)
	}
}

// HasCapability reports whether cap is contained in set.
func HasCapability(set []Capability, cap Capability) bool {
	for _, c := range set {
		if c == cap {
			return true
		}
	}
	return false
}
