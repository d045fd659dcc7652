// Package identity extracts federated workload identities from audit events.
//
// A workload principal asserts a subject of the form
// <prefix>:<namespace>:<service-account>, where the prefix is a fixed
// configured literal. Anything else — notably long-lived static
// credentials — is an unresolved identity: a significant finding in its
// own right, surfaced distinctly from a parse failure.
package identity

import (
	"fmt"
	"strings"

	"github.com/tinkerbelle-io/tb-correlate/internal/event"
)

// Principal types that indicate a federated / workload identity.
var federatedTypes = map[string]bool{
	"AssumedRole":     true,
	"WebIdentityUser": true,
	"FederatedUser":   true,
	"ServiceAccount":  true,
}

// Principal types that indicate a long-lived, non-workload credential.
var staticTypes = map[string]bool{
	"IAMUser":    true,
	"Root":       true,
	"AWSAccount": true,
	"AccessKey":  true,
}

// Resolved is a workload identity extracted from one audit event.
type Resolved struct {
	Namespace      string `json:"namespace"`
	ServiceAccount string `json:"service_account"`
	Subject        string `json:"subject"`
}

// UnresolvedIdentityError reports a principal that is not a workload
// identity. Non-fatal to the run, but must appear in the output.
type UnresolvedIdentityError struct {
	Subject       string
	PrincipalType string
	Reason        string
}

func (e *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("unresolved identity (type %q): %s", e.PrincipalType, e.Reason)
}

// MalformedSubjectError reports a subject that claims to be a workload
// identity but does not parse. Distinct from UnresolvedIdentityError:
// this is a data problem, not a credential-type finding.
type MalformedSubjectError struct {
	Subject string
	Reason  string
}

func (e *MalformedSubjectError) Error() string {
	return fmt.Sprintf("malformed workload subject %q: %s", e.Subject, e.Reason)
}

// Resolve extracts the workload identity from one event. Pure function of
// its input.
func Resolve(ev event.AuditEvent, prefix string) (Resolved, error) {
	subject := ev.PrincipalSubject

	if staticTypes[ev.PrincipalType] {
		return Resolved{}, &UnresolvedIdentityError{
			Subject:       subject,
			PrincipalType: ev.PrincipalType,
			Reason:        "long-lived credential, not a workload identity",
		}
	}

	if subject == "" {
		return Resolved{}, &UnresolvedIdentityError{
			PrincipalType: ev.PrincipalType,
			Reason:        "event carries no principal subject",
		}
	}

	if strings.HasPrefix(subject, prefix+":") {
		rest := strings.TrimPrefix(subject, prefix+":")
		parts := strings.Split(rest, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Resolved{}, &MalformedSubjectError{
				Subject: subject,
				Reason:  fmt.Sprintf("want %s:<namespace>:<service-account>", prefix),
			}
		}
		return Resolved{
			Namespace:      parts[0],
			ServiceAccount: parts[1],
			Subject:        subject,
		}, nil
	}

	if federatedTypes[ev.PrincipalType] {
		// The principal type says workload but the subject lacks the
		// configured prefix. Parse failure, not a credential finding.
		return Resolved{}, &MalformedSubjectError{
			Subject: subject,
			Reason:  fmt.Sprintf("federated subject missing prefix %q", prefix),
		}
	}

	return Resolved{}, &UnresolvedIdentityError{
		Subject:       subject,
		PrincipalType: ev.PrincipalType,
		Reason:        "principal type does not indicate a workload identity",
	}
}
