// Package domain defines the core types, adapter contracts, and error
// taxonomy shared by the provisioning services.
package domain

// Identity describes a user account to be provisioned across the directory
// and the object store. Username is the unique, immutable key. Password is
// write-only: it is pushed to the backing systems and never persisted here.
type Identity struct {
	Username     string `json:"username"`
	GivenName    string `json:"given_name"`
	Surname      string `json:"surname"`
	Email        string `json:"email"`
	Department   string `json:"department"`
	Organization string `json:"organization"`
	Title        string `json:"title"`
	UIDNumber    int    `json:"uid_number"`
	Password     string `json:"password"`
}

// DirectoryUser is the full attribute view of a directory account.
type DirectoryUser struct {
	Username         string   `json:"username"`
	UIDNumber        int      `json:"uid_number"`
	GIDNumber        int      `json:"gid_number"`
	GivenName        string   `json:"given_name"`
	Surname          string   `json:"surname"`
	CommonName       string   `json:"common_name"`
	Email            string   `json:"email"`
	Department       string   `json:"department"`
	Organization     string   `json:"organization"`
	Title            string   `json:"title"`
	HomeDirectory    string   `json:"home_directory"`
	LoginShell       string   `json:"login_shell"`
	ShadowLastChange int      `json:"shadow_last_change"`
	ShadowMin        int      `json:"shadow_min"`
	ShadowMax        int      `json:"shadow_max"`
	ShadowWarning    int      `json:"shadow_warning"`
	ShadowInactive   int      `json:"shadow_inactive"`
	ObjectClasses    []string `json:"object_classes"`
}

// DirectoryGroup is the attribute view of a directory group. Members is
// populated only on single-group reads.
type DirectoryGroup struct {
	Name        string   `json:"name"`
	GIDNumber   int      `json:"gid_number"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Members     []string `json:"members,omitempty"`
}

// PathPermission is an access-control entry on an object-store path.
type PathPermission struct {
	Username   string `json:"username"`
	Path       string `json:"path"`
	Permission string `json:"permission"`
}

// PermissionOwn grants full ownership of an object-store path.
const PermissionOwn = "own"
