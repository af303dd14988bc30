package agentbrowser

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// AnyAction is the policy key that applies to every action kind.
const AnyAction = "*"

// ActionPolicy decides which executor errors end a session. Everything not
// listed is fed back to the model as a recoverable outcome.
type ActionPolicy struct {
	fatal map[string]map[schemas.ErrorCode]bool
}

// DefaultPolicy treats a crashed or closed browser as fatal for every action.
func DefaultPolicy() ActionPolicy {
	return ActionPolicy{fatal: map[string]map[schemas.ErrorCode]bool{
		AnyAction: {
			schemas.ErrCodeTargetCrashed: true,
			schemas.ErrCodeBrowserClosed: true,
		},
	}}
}

// PolicyFromConfig overlays overrides on the default policy. Keys are action
// kinds (matched case-insensitively) or "*", and each key's list replaces the
// default for that key. An empty list makes every error recoverable for that
// key.
func PolicyFromConfig(overrides map[string][]string) (ActionPolicy, error) {
	p := DefaultPolicy()
	for key, codes := range overrides {
		name, err := policyKey(key)
		if err != nil {
			return ActionPolicy{}, err
		}
		set := make(map[schemas.ErrorCode]bool, len(codes))
		for _, c := range codes {
			code := strings.ToUpper(strings.TrimSpace(c))
			if code == "" {
				return ActionPolicy{}, fmt.Errorf("fatal_action_errors.%s contains an empty error code", key)
			}
			set[schemas.ErrorCode(code)] = true
		}
		p.fatal[name] = set
	}
	return p, nil
}

func policyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == AnyAction {
		return AnyAction, nil
	}
	for _, kind := range schemas.AllActionKinds {
		if strings.EqualFold(key, string(kind)) {
			return string(kind), nil
		}
	}
	return "", fmt.Errorf("fatal_action_errors: unknown action kind %q", key)
}

// Fatal reports whether code ends the session for an action of this kind. A
// kind specific entry takes precedence over the "*" entry.
func (p ActionPolicy) Fatal(kind schemas.ActionKind, code schemas.ErrorCode) bool {
	if set, ok := p.fatal[string(kind)]; ok {
		return set[code]
	}
	return p.fatal[AnyAction][code]
}
