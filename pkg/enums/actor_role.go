package enums

// ActorRole is the role carried by an access token.
type ActorRole string

const (
	ActorRoleOwner  ActorRole = "owner"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleViewer ActorRole = "viewer"
)

func (r ActorRole) String() string { return string(r) }

func (r ActorRole) IsValid() bool {
	return r.CanWrite() || r == ActorRoleViewer
}

// CanWrite reports whether the role may mutate payroll and directory data.
func (r ActorRole) CanWrite() bool {
	return r == ActorRoleOwner || r == ActorRoleAdmin
}

func ParseActorRole(value string) (ActorRole, error) {
	return parse[ActorRole](value, "actor role")
}
