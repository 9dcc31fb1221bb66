// Package directory implements the account directory adapter on top of an
// LDAP server laid out with People and Groups organizational units.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"portal-conductor/internal/domain"
)

// Account defaults applied to every entry this service provisions.
const (
	defaultGIDNumber  = 10013
	defaultLoginShell = "/bin/bash"

	shadowMin      = 1
	shadowMax      = 730
	shadowInactive = 10
	shadowWarning  = 10
)

var userObjectClasses = []string{"posixAccount", "shadowAccount", "inetOrgPerson"}

var userAttributes = []string{
	"uid", "uidNumber", "gidNumber", "givenName", "sn", "cn", "mail",
	"departmentNumber", "o", "title", "homeDirectory", "loginShell",
	"shadowLastChange", "shadowMin", "shadowMax", "shadowInactive",
	"shadowWarning", "objectClass",
}

// Config holds the connection and naming settings for the directory.
type Config struct {
	URL      string
	BindDN   string
	Password string
	BaseDN   string
}

// Client talks to the LDAP server. A single bound connection is shared and
// redialed once when a network error surfaces mid-operation.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn ldapConn
	dial func() (ldapConn, error)
}

// ldapConn is the slice of *ldap.Conn the client uses, extracted so tests
// can substitute a recording fake.
type ldapConn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
	Modify(req *ldap.ModifyRequest) error
	PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)
	Close() error
}

var _ domain.Directory = (*Client)(nil)

// NewClient builds a directory client. The connection is established
// lazily on first use.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{cfg: cfg, logger: logger}
	c.dial = func() (ldapConn, error) {
		conn, err := ldap.DialURL(cfg.URL)
		if err != nil {
			return nil, domain.ErrServiceUnavailable("directory dial %s: %v", cfg.URL, err)
		}
		if err := conn.Bind(cfg.BindDN, cfg.Password); err != nil {
			conn.Close()
			return nil, domain.ErrAuth("directory bind as %s: %v", cfg.BindDN, err)
		}
		return conn, nil
	}
	return c
}

func (c *Client) userDN(username string) string {
	return fmt.Sprintf("uid=%s,ou=People,%s", username, c.cfg.BaseDN)
}

func (c *Client) groupDN(group string) string {
	return fmt.Sprintf("cn=%s,ou=Groups,%s", group, c.cfg.BaseDN)
}

func (c *Client) peopleBase() string { return "ou=People," + c.cfg.BaseDN }
func (c *Client) groupsBase() string { return "ou=Groups," + c.cfg.BaseDN }

// withConn runs fn against the shared connection, redialing once if the
// connection has gone away.
func (c *Client) withConn(ctx context.Context, fn func(conn ldapConn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			return err
		}
		c.conn = conn
	}

	err := fn(c.conn)
	if err == nil || !ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		return err
	}

	// The server closed the connection under us. One reconnect attempt.
	c.logger.Warn("directory connection lost, redialing", "error", err)
	c.conn.Close()
	conn, dialErr := c.dial()
	if dialErr != nil {
		c.conn = nil
		return dialErr
	}
	c.conn = conn
	return fn(c.conn)
}

// Close releases the shared connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) UserExists(ctx context.Context, username string) (bool, error) {
	user, err := c.searchUser(ctx, username)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

func (c *Client) GetUser(ctx context.Context, username string) (*domain.DirectoryUser, error) {
	user, err := c.searchUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound("user %s not found in directory", username)
	}
	return user, nil
}

func (c *Client) searchUser(ctx context.Context, username string) (*domain.DirectoryUser, error) {
	var user *domain.DirectoryUser
	err := c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewSearchRequest(
			c.peopleBase(), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			userFilter(username), userAttributes, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				return nil
			}
			return mapLDAPError("search user", err)
		}
		if len(res.Entries) == 0 {
			return nil
		}
		user = entryToUser(res.Entries[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (c *Client) CreateUser(ctx context.Context, identity domain.Identity) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		req := newUserAddRequest(c.userDN(identity.Username), identity, daysSinceEpochNow())
		if err := conn.Add(req); err != nil {
			return mapLDAPError("add user", err)
		}
		return nil
	})
}

func (c *Client) DeleteUser(ctx context.Context, username string) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		if err := conn.Del(ldap.NewDelRequest(c.userDN(username), nil)); err != nil {
			return mapLDAPError("delete user", err)
		}
		return nil
	})
}

func (c *Client) SetPassword(ctx context.Context, username, password string) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewPasswordModifyRequest(c.userDN(username), "", password)
		if _, err := conn.PasswordModify(req); err != nil {
			return mapLDAPError("set password", err)
		}
		return nil
	})
}

func (c *Client) AdvancePasswordChanged(ctx context.Context, username string, days int) error {
	return c.ModifyAttribute(ctx, username, "shadowLastChange", strconv.Itoa(days))
}

func (c *Client) ModifyAttribute(ctx context.Context, username, attribute, value string) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewModifyRequest(c.userDN(username), nil)
		req.Replace(attribute, []string{value})
		if err := conn.Modify(req); err != nil {
			return mapLDAPError("modify "+attribute, err)
		}
		return nil
	})
}

func (c *Client) UserGroups(ctx context.Context, username string) ([]string, error) {
	var groups []string
	err := c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewSearchRequest(
			c.groupsBase(), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			membershipFilter(username), []string{"cn"}, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				return nil
			}
			return mapLDAPError("search groups", err)
		}
		for _, entry := range res.Entries {
			groups = append(groups, entry.GetAttributeValue("cn"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) AddToGroup(ctx context.Context, username, group string) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewModifyRequest(c.groupDN(group), nil)
		req.Add("memberUid", []string{username})
		err := conn.Modify(req)
		if err == nil || ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
			// Already a member, which is the desired end state.
			return nil
		}
		return mapLDAPError("add group member", err)
	})
}

func (c *Client) RemoveFromGroup(ctx context.Context, username, group string) error {
	return c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewModifyRequest(c.groupDN(group), nil)
		req.Delete("memberUid", []string{username})
		err := conn.Modify(req)
		if err == nil || ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute) {
			return nil
		}
		return mapLDAPError("remove group member", err)
	})
}

func (c *Client) ListGroups(ctx context.Context) ([]domain.DirectoryGroup, error) {
	var groups []domain.DirectoryGroup
	err := c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewSearchRequest(
			c.groupsBase(), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			"(objectClass=posixGroup)",
			[]string{"cn", "gidNumber", "displayName", "description"}, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			return mapLDAPError("list groups", err)
		}
		for _, entry := range res.Entries {
			groups = append(groups, entryToGroup(entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup reads a single group with its member list.
func (c *Client) GetGroup(ctx context.Context, group string) (*domain.DirectoryGroup, error) {
	var found *domain.DirectoryGroup
	err := c.withConn(ctx, func(conn ldapConn) error {
		req := ldap.NewSearchRequest(
			c.groupsBase(), ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			groupFilter(group),
			[]string{"cn", "gidNumber", "displayName", "description", "memberUid"}, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			return mapLDAPError("search group", err)
		}
		if len(res.Entries) == 0 {
			return nil
		}
		g := entryToGroup(res.Entries[0])
		found = &g
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrNotFound("group %s not found", group)
	}
	return found, nil
}
