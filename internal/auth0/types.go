package auth0

// Role is a tenant role as returned by /api/v2/roles.
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Application is a client application as returned by /api/v2/clients.
type Application struct {
	ClientID string `json:"client_id,omitempty"`
	Name     string `json:"name,omitempty"`
	AppType  string `json:"app_type,omitempty"`
}

// Connection is an identity connection as returned by /api/v2/connections.
// Options is kept untyped: it varies per strategy and must be sent back
// mostly unchanged on updates.
type Connection struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Strategy string         `json:"strategy,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// CustomScripts returns the database action scripts stored in the
// connection options, keyed by script name (e.g. "login", "get_user").
func (c *Connection) CustomScripts() map[string]string {
	scripts := make(map[string]string)
	raw, ok := c.Options["customScripts"].(map[string]any)
	if !ok {
		return scripts
	}
	for name, v := range raw {
		if s, ok := v.(string); ok {
			scripts[name] = s
		}
	}
	return scripts
}

// Rule is a rule as returned by /api/v2/rules.
type Rule struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Script  string `json:"script,omitempty"`
	Order   int    `json:"order,omitempty"`
	Enabled bool   `json:"enabled"`
	Stage   string `json:"stage,omitempty"`
}

// RuleUpdate is the PATCH body for /api/v2/rules/{id}.
// Nil fields are left untouched.
type RuleUpdate struct {
	Name    string `json:"name,omitempty"`
	Script  string `json:"script,omitempty"`
	Order   *int   `json:"order,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// ConnectionUpdate is the PATCH body for /api/v2/connections/{id}.
// The API replaces options as a whole, so callers send the merged object.
type ConnectionUpdate struct {
	Options map[string]any `json:"options"`
}
