package types

import "time"

// Kind identifies what a provisioned resource is.
type Kind string

const (
	KindRole             Kind = "iam-role"
	KindPolicyAttachment Kind = "policy-attachment"
	KindInstanceProfile  Kind = "instance-profile"
	KindLogGroup         Kind = "log-group"
	KindSecurityGroup    Kind = "security-group"
	KindSiteArtifact     Kind = "site-artifact"
	KindInstance         Kind = "instance"
	KindDNSRecord        Kind = "dns-record"
)

// ProvisionOrder is the dependency chain for a stack, first to last.
// Destroy walks it in reverse.
var ProvisionOrder = []Kind{
	KindRole,
	KindPolicyAttachment,
	KindInstanceProfile,
	KindLogGroup,
	KindSecurityGroup,
	KindSiteArtifact,
	KindInstance,
	KindDNSRecord,
}

// Resource is one provisioned cloud resource tracked in state.
type Resource struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Stack     string            `json:"stack"`
	Region    string            `json:"region"`
	AccountID string            `json:"account_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key returns the state-store key for a resource. One resource per
// kind per stack, so stack/kind is sufficient.
func (r *Resource) Key() string {
	return r.Stack + "/" + string(r.Kind)
}

// ResourceKey builds the state-store key without a Resource value.
func ResourceKey(stack string, kind Kind) string {
	return stack + "/" + string(kind)
}

// OrderIndex returns the position of a kind in the provision order,
// or len(ProvisionOrder) for unknown kinds so they sort last.
func OrderIndex(kind Kind) int {
	for i, k := range ProvisionOrder {
		if k == kind {
			return i
		}
	}
	return len(ProvisionOrder)
}
