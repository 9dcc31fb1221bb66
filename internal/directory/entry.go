package directory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"

	"portal-conductor/internal/domain"
)

func userFilter(username string) string {
	return fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username))
}

func membershipFilter(username string) string {
	return fmt.Sprintf("(&(objectClass=posixGroup)(memberUid=%s))", ldap.EscapeFilter(username))
}

func groupFilter(group string) string {
	return fmt.Sprintf("(&(objectClass=posixGroup)(cn=%s))", ldap.EscapeFilter(group))
}

func entryToGroup(entry *ldap.Entry) domain.DirectoryGroup {
	gid, _ := strconv.Atoi(entry.GetAttributeValue("gidNumber"))
	return domain.DirectoryGroup{
		Name:        entry.GetAttributeValue("cn"),
		GIDNumber:   gid,
		DisplayName: entry.GetAttributeValue("displayName"),
		Description: entry.GetAttributeValue("description"),
		Members:     entry.GetAttributeValues("memberUid"),
	}
}

func daysSinceEpochNow() int {
	return daysSinceEpoch(time.Now())
}

func daysSinceEpoch(t time.Time) int {
	return int(t.UTC().Sub(time.Unix(0, 0).UTC()) / (24 * time.Hour))
}

// newUserAddRequest builds the add request for a fresh account entry with
// the site's posix and shadow defaults.
func newUserAddRequest(dn string, identity domain.Identity, lastChange int) *ldap.AddRequest {
	req := ldap.NewAddRequest(dn, nil)
	req.Attribute("objectClass", userObjectClasses)
	req.Attribute("uid", []string{identity.Username})
	req.Attribute("uidNumber", []string{strconv.Itoa(identity.UIDNumber)})
	req.Attribute("gidNumber", []string{strconv.Itoa(defaultGIDNumber)})
	req.Attribute("givenName", []string{identity.GivenName})
	req.Attribute("sn", []string{identity.Surname})
	req.Attribute("cn", []string{identity.GivenName + " " + identity.Surname})
	req.Attribute("mail", []string{identity.Email})
	req.Attribute("homeDirectory", []string{"/home/" + identity.Username})
	req.Attribute("loginShell", []string{defaultLoginShell})
	req.Attribute("shadowLastChange", []string{strconv.Itoa(lastChange)})
	req.Attribute("shadowMin", []string{strconv.Itoa(shadowMin)})
	req.Attribute("shadowMax", []string{strconv.Itoa(shadowMax)})
	req.Attribute("shadowInactive", []string{strconv.Itoa(shadowInactive)})
	req.Attribute("shadowWarning", []string{strconv.Itoa(shadowWarning)})
	if identity.Department != "" {
		req.Attribute("departmentNumber", []string{identity.Department})
	}
	if identity.Organization != "" {
		req.Attribute("o", []string{identity.Organization})
	}
	if identity.Title != "" {
		req.Attribute("title", []string{identity.Title})
	}
	return req
}

func entryToUser(entry *ldap.Entry) *domain.DirectoryUser {
	atoi := func(attr string) int {
		n, _ := strconv.Atoi(entry.GetAttributeValue(attr))
		return n
	}
	return &domain.DirectoryUser{
		Username:         entry.GetAttributeValue("uid"),
		UIDNumber:        atoi("uidNumber"),
		GIDNumber:        atoi("gidNumber"),
		GivenName:        entry.GetAttributeValue("givenName"),
		Surname:          entry.GetAttributeValue("sn"),
		CommonName:       entry.GetAttributeValue("cn"),
		Email:            entry.GetAttributeValue("mail"),
		Department:       entry.GetAttributeValue("departmentNumber"),
		Organization:     entry.GetAttributeValue("o"),
		Title:            entry.GetAttributeValue("title"),
		HomeDirectory:    entry.GetAttributeValue("homeDirectory"),
		LoginShell:       entry.GetAttributeValue("loginShell"),
		ShadowLastChange: atoi("shadowLastChange"),
		ShadowMin:        atoi("shadowMin"),
		ShadowMax:        atoi("shadowMax"),
		ShadowInactive:   atoi("shadowInactive"),
		ShadowWarning:    atoi("shadowWarning"),
		ObjectClasses:    entry.GetAttributeValues("objectClass"),
	}
}

// mapLDAPError converts LDAP result codes into domain errors.
func mapLDAPError(op string, err error) error {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return domain.ErrNotFound("%s: entry not found", op)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return domain.ErrConflict("%s: entry already exists", op)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights):
		return domain.ErrAuth("%s: %v", op, err)
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return domain.ErrServiceUnavailable("%s: %v", op, err)
	default:
		return domain.ErrUpstream(0, "%s: %v", op, err)
	}
}
