package common

// Credentials carries the authentication material used when a command has to
// be executed on a remote host or elevated with sudo.
type Credentials struct {
	User          string
	Password      string
	KeyPassphrase string
	SudoPassword  string
}
