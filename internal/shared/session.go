package shared

// Session carries the resolved tenant identity for one request or job run.
// It is built once by the authentication edge and passed explicitly through
// context; nothing in the core mutates or caches it.
type Session struct {
	TenantID string
	UserID   string
	Role     string
}

// IsAdmin reports whether the session carries an administrative role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == "admin"
}
