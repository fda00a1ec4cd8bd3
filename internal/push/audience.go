package push

import (
	"fmt"
	"regexp"
)

// AudienceKind discriminates the Audience variant.
type AudienceKind uint8

const (
	AudienceSingle AudienceKind = iota + 1
	AudienceGroup
	AudienceAll
)

func (k AudienceKind) String() string {
	switch k {
	case AudienceSingle:
		return "single"
	case AudienceGroup:
		return "group"
	case AudienceAll:
		return "all"
	default:
		return "unknown"
	}
}

// Audience says who receives a dispatch. Build it with Single, Group or All;
// the zero value is invalid.
type Audience struct {
	kind       AudienceKind
	recipient  string
	group      string
	recipients []string
}

// Single addresses one registered recipient.
func Single(token string) Audience { return Audience{kind: AudienceSingle, recipient: token} }

// Group addresses a named broadcast group (a gateway topic).
func Group(name string) Audience { return Audience{kind: AudienceGroup, group: name} }

// All addresses every registered recipient, resolved from the store by the caller.
func All(tokens []string) Audience {
	cp := append([]string(nil), tokens...)
	return Audience{kind: AudienceAll, recipients: cp}
}

func (a Audience) Kind() AudienceKind { return a.kind }

func (a Audience) Recipient() string { return a.recipient }

func (a Audience) GroupName() string { return a.group }

// Recipients returns a copy of the resolved recipient list of an All audience.
func (a Audience) Recipients() []string { return append([]string(nil), a.recipients...) }

// Size is the number of addressed recipients, or -1 for a group whose size
// only the gateway knows.
func (a Audience) Size() int {
	switch a.kind {
	case AudienceSingle:
		return 1
	case AudienceAll:
		return len(a.recipients)
	default:
		return -1
	}
}

func (a Audience) Validate() error {
	switch a.kind {
	case AudienceSingle:
		if a.recipient == "" {
			return InvalidInput("single audience without recipient")
		}
	case AudienceGroup:
		return ValidGroup(a.group)
	case AudienceAll:
	default:
		return InvalidInput("audience not set")
	}
	return nil
}

func (a Audience) String() string {
	switch a.kind {
	case AudienceSingle:
		return "single"
	case AudienceGroup:
		return "group:" + a.group
	case AudienceAll:
		return fmt.Sprintf("all(%d)", len(a.recipients))
	default:
		return "unset"
	}
}

// FCM topic names: [a-zA-Z0-9-_.~%]+
var groupRe = regexp.MustCompile(`^[a-zA-Z0-9\-_.~%]+$`)

// ValidGroup checks name against the gateway topic alphabet.
func ValidGroup(name string) error {
	if name == "" {
		return InvalidInput("group is required")
	}
	if !groupRe.MatchString(name) {
		return InvalidInput("invalid group name %q", name)
	}
	return nil
}
