package auth

// Capability is what a principal may do at the registry boundary.
type Capability string

const (
	CapOwner          Capability = "owner"
	CapFinalAuthority Capability = "final_authority"
	CapParticipant    Capability = "participant"
)

func (c Capability) Valid() bool {
	switch c {
	case CapOwner, CapFinalAuthority, CapParticipant:
		return true
	}
	return false
}

// Principal is a configured identity. SecretHash is a bcrypt hash and never
// leaves the service.
type Principal struct {
	ID           string
	SecretHash   string
	Capabilities []Capability
}

// Identity is what a verified token says about its bearer.
type Identity struct {
	ID           string
	Capabilities []Capability
}

func (i Identity) Can(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// LoginRequest contains principal credentials.
type LoginRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}
