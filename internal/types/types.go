package types

// User is the durable identity issued by the session layer before a client
// opens the signaling connection. Id is independent of any particular
// connection.
type User struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}
