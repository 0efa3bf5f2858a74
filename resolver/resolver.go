// Package resolver holds the pluggable resolution strategies and the
// directory that tracks which of them may back new claims.
package resolver

import (
	"context"
	"fmt"

	"verity/answer"
	"verity/claim"
)

// Resolver turns a claim payload into a typed answer. Its return values are
// validated by the registry; it must not block indefinitely.
type Resolver interface {
	// OnCreated reports the claim's initial state, PENDING or ACTIVE.
	OnCreated(ctx context.Context, claimID, templateID uint64, payload []byte) (claim.State, error)
	Resolve(ctx context.Context, claimID uint64, caller string, payload []byte) (answer.Answer, error)
	IsValidTemplate(templateID uint64) bool
	AnswerTypeOf(templateID uint64) answer.Type
	QuestionText(ctx context.Context, claimID uint64) (string, error)
}

// Trust is the trust class an owner assigns to a registered resolver.
type Trust int

const (
	TrustNone Trust = iota
	TrustPermissionless
	TrustVerified
	TrustSystemGrade
)

var trustNames = map[Trust]string{
	TrustNone:           "none",
	TrustPermissionless: "permissionless",
	TrustVerified:       "verified",
	TrustSystemGrade:    "system_grade",
}

func (t Trust) String() string {
	if n, ok := trustNames[t]; ok {
		return n
	}
	return fmt.Sprintf("trust(%d)", int(t))
}

func ParseTrust(s string) (Trust, error) {
	for t, n := range trustNames {
		if n == s {
			return t, nil
		}
	}
	return TrustNone, fmt.Errorf("resolver: unknown trust class %q", s)
}

func (t Trust) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Trust) UnmarshalText(b []byte) error {
	parsed, err := ParseTrust(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config is the directory's view of one resolver.
type Config struct {
	ID         string `json:"id"`
	Trust      Trust  `json:"trust"`
	Deprecated bool   `json:"deprecated"`
}

// Active reports whether new claims may reference the resolver.
func (c Config) Active() bool {
	return c.Trust != TrustNone && !c.Deprecated
}
