package domain

// Account is a registered user. PasswordHash is the hex SHA-256 digest of the password.
type Account struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}
