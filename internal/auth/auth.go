// Package auth handles bearer-token authentication and the authenticated
// principal attached to requests and WebSocket connections.
package auth

// Role is the authorization role carried by a principal.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleAgent  Role = "AGENT"
	RolePlayer Role = "PLAYER"
	RoleAnon   Role = "ANON"
)

// Principal is the authenticated identity for a request or connection.
// Players are anonymous: they authenticate by ticket token, so UserID is
// empty and TicketToken identifies their scope.
type Principal struct {
	UserID      string
	Username    string
	Role        Role
	TicketToken string
}

// IsStaff reports whether the principal is an agent or administrator.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleAgent
}
