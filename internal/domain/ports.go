package domain

import "context"

// Directory is the contract for the account/group directory service.
type Directory interface {
	UserExists(ctx context.Context, username string) (bool, error)
	GetUser(ctx context.Context, username string) (*DirectoryUser, error)
	CreateUser(ctx context.Context, identity Identity) error
	DeleteUser(ctx context.Context, username string) error
	SetPassword(ctx context.Context, username, password string) error

	// AdvancePasswordChanged sets the account's password-last-changed
	// marker to the given day count since the Unix epoch.
	AdvancePasswordChanged(ctx context.Context, username string, days int) error
	ModifyAttribute(ctx context.Context, username, attribute, value string) error

	UserGroups(ctx context.Context, username string) ([]string, error)
	AddToGroup(ctx context.Context, username, group string) error
	RemoveFromGroup(ctx context.Context, username, group string) error
	ListGroups(ctx context.Context) ([]DirectoryGroup, error)
	GetGroup(ctx context.Context, group string) (*DirectoryGroup, error)
}

// ObjectStore is the contract for the data-management backend holding
// per-user home collections and access-control entries.
type ObjectStore interface {
	Health(ctx context.Context) error
	UserExists(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, username string) error
	DeleteUser(ctx context.Context, username string) error
	SetPassword(ctx context.Context, username, password string) error

	HomePath(ctx context.Context, username string) (string, error)
	CreateHome(ctx context.Context, username string) error
	DeleteHome(ctx context.Context, username string) error

	PathExists(ctx context.Context, path string) (bool, error)
	Permissions(ctx context.Context, path string) ([]PathPermission, error)
	AvailablePermissions(ctx context.Context) ([]string, error)
	Chmod(ctx context.Context, perm PathPermission) error

	RegisterService(ctx context.Context, username, path, storeUser string) error
}

// MailingLists is the capability contract for the mailing-list backend.
// The orchestration layer never depends on how membership is obtained.
type MailingLists interface {
	AddMember(ctx context.Context, list, email string) error
	RemoveMember(ctx context.Context, list, email string) error
	MemberExists(ctx context.Context, list, email string) (bool, error)
	ListMembers(ctx context.Context, list string) ([]string, error)
}

// JobService is the contract for the batch-job backend used for
// asynchronous deletions.
type JobService interface {
	// FindAppID resolves an app id by name within a system. It returns
	// an empty id and nil error when no app matches.
	FindAppID(ctx context.Context, systemID, appName string) (string, error)

	// UsernameParameterID selects the app parameter that receives the
	// target username.
	UsernameParameterID(ctx context.Context, systemID, appID string) (string, error)

	SubmitDeletionJob(ctx context.Context, systemID, appID, parameterID, username string) (*Job, error)
	JobStatus(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, statusFilter string) ([]Job, error)
}
