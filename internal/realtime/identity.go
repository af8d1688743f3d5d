package realtime

import (
	"strings"

	"github.com/Honniee/YouthGovernanceWeb-sub002/pkg/token"
)

// Application roles as carried in JWT claims.
const (
	RoleAdmin      = "admin"
	RoleStaff      = "lydo_staff"
	RoleSKOfficial = "sk_official"
)

// Channel name conventions. The "user:" and "role:" prefixes are reserved:
// membership in those channels is derived from the verified identity and is
// never granted through the client-driven join path.
const (
	PublicChannel      = "public"
	AdminAlertsChannel = "admin:alerts"
	identityChanPrefix = "user:"
	roleChanPrefix     = "role:"
)

// Identity is the authenticated principal behind a connection.
// A nil *Identity means the connection is anonymous.
type Identity struct {
	ID   string
	Role string
}

func RoleChannel(role string) string {
	return roleChanPrefix + role
}

func IdentityChannel(userID string) string {
	return identityChanPrefix + userID
}

// reservedChannel reports whether a channel name may only be assigned
// internally from a verified identity.
func reservedChannel(name string) bool {
	return strings.HasPrefix(name, identityChanPrefix) || strings.HasPrefix(name, roleChanPrefix)
}

// DefaultChannels computes the trusted channel set assigned at connect time.
// Anonymous connections only get the public channel. Admins additionally join
// the alerts channel reserved for that role.
func DefaultChannels(identity *Identity) []string {
	channels := []string{PublicChannel}
	if identity == nil {
		return channels
	}

	channels = append(channels, IdentityChannel(identity.ID), RoleChannel(identity.Role))
	if identity.Role == RoleAdmin {
		channels = append(channels, AdminAlertsChannel)
	}
	return channels
}

// Verifier validates handshake credentials. It only decodes and checks the
// signature; it never touches storage.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify turns a bearer credential into an identity. An empty credential
// yields (nil, nil): the connection is anonymous, not rejected. A malformed,
// expired or badly signed credential yields an error; the caller decides
// whether to degrade to anonymous or reject (strict mode).
func (v *Verifier) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}

	claims, err := token.Validate(credential, v.secret)
	if err != nil {
		return nil, err
	}

	return &Identity{ID: claims.UserID, Role: claims.Role}, nil
}
