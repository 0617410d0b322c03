package slug

import (
	"fmt"
	"strings"
)

// ValidateLogin performs a shape check on an owner login. Logins are email
// addresses at the identity provider; the provider remains the authority on
// whether one is acceptable, this only rejects obviously malformed input
// before any network call.
func ValidateLogin(login string) error {
	login = strings.TrimSpace(login)
	if login == "" {
		return fmt.Errorf("login is required")
	}
	if strings.ContainsAny(login, " \t\n") {
		return fmt.Errorf("login %q contains whitespace", login)
	}
	at := strings.Index(login, "@")
	if at <= 0 || at != strings.LastIndex(login, "@") {
		return fmt.Errorf("login %q is not a valid address", login)
	}
	domain := login[at+1:]
	if domain == "" || !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Errorf("login %q has an invalid domain", login)
	}
	return nil
}
