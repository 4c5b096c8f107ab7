package domain

import "fmt"

// Mechanism identifies a second-factor verification method.
type Mechanism string

const (
	MechanismOTP   Mechanism = "otp"
	MechanismEmail Mechanism = "email"
	MechanismSMS   Mechanism = "sms"
)

// Mechanisms lists every supported mechanism in a stable order.
var Mechanisms = []Mechanism{MechanismOTP, MechanismEmail, MechanismSMS}

// FallbackSatisfies maps a backup mechanism to the set of original
// mechanisms a successful verification of it also satisfies. The relation
// is one-directional: completing email clears an outstanding otp or sms
// requirement, never the reverse.
var FallbackSatisfies = map[Mechanism][]Mechanism{
	MechanismEmail: {MechanismOTP, MechanismSMS},
}

// ParseMechanism validates a wire-level mechanism name.
func ParseMechanism(s string) (Mechanism, error) {
	switch Mechanism(s) {
	case MechanismOTP, MechanismEmail, MechanismSMS:
		return Mechanism(s), nil
	}
	return "", fmt.Errorf("unknown mfa mechanism %q", s)
}
