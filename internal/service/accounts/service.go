// Package accounts implements the provisioning orchestrator: idempotent
// multi-step creation and teardown of user identities across the directory,
// the object store, and the batch-job backend.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portal-conductor/internal/domain"
)

// Config carries the orchestration settings resolved at startup.
type Config struct {
	// EveryoneGroup and CommunityGroup are the default directory groups
	// every provisioned user joins.
	EveryoneGroup  string
	CommunityGroup string

	// ServicesPrincipal and AdminPrincipal must both own every provisioned
	// home collection.
	ServicesPrincipal string
	AdminPrincipal    string

	// Job backend settings for asynchronous deletion. AppID may be empty,
	// in which case it is resolved by AppName lookup and cached.
	JobSystemID string
	JobAppName  string
	JobAppID    string
}

// Service sequences directory, object-store, and job-backend calls. It
// holds no per-user state: each operation is a deterministic idempotent
// procedure over the observed state of the backing systems, which are the
// only source of truth.
type Service struct {
	dir    domain.Directory
	store  domain.ObjectStore
	jobs   domain.JobService // nil when the job backend is not configured
	cfg    Config
	logger *slog.Logger

	// appID caches the resolved deletion app id across requests.
	appMu sync.Mutex
	appID string

	now func() time.Time
}

// NewService wires the orchestrator. jobs may be nil when asynchronous
// deletion is not configured; the other adapters are required.
func NewService(dir domain.Directory, store domain.ObjectStore, jobs domain.JobService, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		dir:    dir,
		store:  store,
		jobs:   jobs,
		cfg:    cfg,
		appID:  cfg.JobAppID,
		logger: logger,
		now:    time.Now,
	}
}

// daysSinceEpoch returns the number of whole days since the Unix epoch,
// the unit the directory uses for its password-last-changed marker.
func (s *Service) daysSinceEpoch() int {
	return int(s.now().UTC().Sub(time.Unix(0, 0).UTC()) / (24 * time.Hour))
}

// Create provisions an identity across the directory and the object store.
// Every step except the object-store password write is idempotent: existing
// accounts, memberships, collections, and ACL entries are left untouched,
// so the whole operation is safe to re-invoke after a partial failure.
// There is no rollback; a failed step aborts the remainder and the error
// names the step, leaving partial state diagnosable from the logs.
func (s *Service) Create(ctx context.Context, identity domain.Identity) (string, error) {
	username := identity.Username
	log := s.logger.With("username", username)

	exists, err := s.dir.UserExists(ctx, username)
	if err != nil {
		return "", s.step(log, "directory lookup", username, err)
	}
	if !exists {
		log.Info("creating directory account")
		if err := s.dir.CreateUser(ctx, identity); err != nil {
			return "", s.step(log, "directory create", username, err)
		}
		log.Info("setting directory password")
		if err := s.dir.SetPassword(ctx, username, identity.Password); err != nil {
			return "", s.step(log, "directory password", username, err)
		}
	} else {
		log.Info("directory account already exists, skipping creation")
	}

	groups, err := s.dir.UserGroups(ctx, username)
	if err != nil {
		return "", s.step(log, "directory group lookup", username, err)
	}
	for _, group := range []string{s.cfg.EveryoneGroup, s.cfg.CommunityGroup} {
		if group == "" || contains(groups, group) {
			continue
		}
		log.Info("adding to directory group", "group", group)
		if err := s.dir.AddToGroup(ctx, username, group); err != nil {
			return "", s.step(log, "directory group add", username, err)
		}
	}

	storeExists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return "", s.step(log, "store lookup", username, err)
	}
	if !storeExists {
		log.Info("creating object-store account")
		if err := s.store.CreateUser(ctx, username); err != nil {
			return "", s.step(log, "store create", username, err)
		}
	}

	home, err := s.store.HomePath(ctx, username)
	if err != nil {
		return "", s.step(log, "store home lookup", username, err)
	}
	homeExists, err := s.store.PathExists(ctx, home)
	if err != nil {
		return "", s.step(log, "store home check", username, err)
	}
	if !homeExists {
		log.Info("creating home collection", "path", home)
		if err := s.store.CreateHome(ctx, username); err != nil {
			return "", s.step(log, "store home create", username, err)
		}
		if err := s.store.Chmod(ctx, domain.PathPermission{
			Username: username, Path: home, Permission: domain.PermissionOwn,
		}); err != nil {
			return "", s.step(log, "store home owner", username, err)
		}
	}

	// Always executed: neither backend can report whether the password
	// already equals the requested one, and re-setting it is harmless.
	// This is also what makes Create double as a password reset.
	log.Info("setting object-store password")
	if err := s.store.SetPassword(ctx, username, identity.Password); err != nil {
		return "", s.step(log, "store password", username, err)
	}

	if err := s.ensureOwners(ctx, log, home, username); err != nil {
		return "", err
	}

	log.Info("identity provisioned")
	return username, nil
}

// ensureOwners grants "own" on the home collection to the two configured
// service principals, skipping entries already present.
func (s *Service) ensureOwners(ctx context.Context, log *slog.Logger, home, username string) error {
	perms, err := s.store.Permissions(ctx, home)
	if err != nil {
		return s.step(log, "store permission lookup", username, err)
	}
	for _, principal := range []string{s.cfg.ServicesPrincipal, s.cfg.AdminPrincipal} {
		if principal == "" || owns(perms, principal) {
			continue
		}
		log.Info("granting ownership", "principal", principal, "path", home)
		if err := s.store.Chmod(ctx, domain.PathPermission{
			Username: principal, Path: home, Permission: domain.PermissionOwn,
		}); err != nil {
			return s.step(log, "store permission grant", username, err)
		}
	}
	return nil
}

// ChangePassword sets the new password in the directory, advances the
// directory's password-last-changed marker, and sets the password in the
// object store. The three writes are independent; if a later one fails the
// earlier ones have already taken effect. That is an accepted limitation,
// not masked.
func (s *Service) ChangePassword(ctx context.Context, username, password string) error {
	log := s.logger.With("username", username)

	if err := s.dir.SetPassword(ctx, username, password); err != nil {
		return s.step(log, "directory password", username, err)
	}
	if err := s.dir.AdvancePasswordChanged(ctx, username, s.daysSinceEpoch()); err != nil {
		return s.step(log, "directory password marker", username, err)
	}
	if err := s.store.SetPassword(ctx, username, password); err != nil {
		return s.step(log, "store password", username, err)
	}
	log.Info("password changed")
	return nil
}

// DeleteSync tears an identity down inline: the object-store home
// collection, then the store account, then every directory group
// membership, then the directory account. Both branches skip systems where
// the user is already absent, so the operation is a no-op on a fully
// deleted user and safe to retry after partial completion.
func (s *Service) DeleteSync(ctx context.Context, username string) error {
	log := s.logger.With("username", username)

	storeExists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return s.step(log, "store lookup", username, err)
	}
	if storeExists {
		// Home before account: the account must still exist to resolve
		// ownership during collection deletion.
		log.Info("deleting home collection")
		if err := s.store.DeleteHome(ctx, username); err != nil {
			return s.step(log, "store home delete", username, err)
		}
		log.Info("deleting object-store account")
		if err := s.store.DeleteUser(ctx, username); err != nil {
			return s.step(log, "store delete", username, err)
		}
	} else {
		log.Info("no object-store account, skipping store deletion")
	}

	dirExists, err := s.dir.UserExists(ctx, username)
	if err != nil {
		return s.step(log, "directory lookup", username, err)
	}
	if dirExists {
		groups, err := s.dir.UserGroups(ctx, username)
		if err != nil {
			return s.step(log, "directory group lookup", username, err)
		}
		for _, group := range groups {
			log.Info("removing from directory group", "group", group)
			if err := s.dir.RemoveFromGroup(ctx, username, group); err != nil {
				return s.step(log, "directory group remove", username, err)
			}
		}
		log.Info("deleting directory account")
		if err := s.dir.DeleteUser(ctx, username); err != nil {
			return s.step(log, "directory delete", username, err)
		}
	} else {
		log.Info("no directory account, skipping directory deletion")
	}

	log.Info("identity deleted")
	return nil
}

// DeleteAsync submits the deletion to the job backend and returns the job
// handle. No local deletion step is performed: the entire teardown runs
// outside this process, which is what keeps large home collections from
// timing out a request thread.
func (s *Service) DeleteAsync(ctx context.Context, username string) (*domain.Job, error) {
	if s.jobs == nil {
		return nil, domain.ErrServiceUnavailable("job backend is not configured")
	}
	log := s.logger.With("username", username)

	appID, err := s.resolveAppID(ctx)
	if err != nil {
		return nil, err
	}
	paramID, err := s.jobs.UsernameParameterID(ctx, s.cfg.JobSystemID, appID)
	if err != nil {
		return nil, s.step(log, "job parameter resolution", username, err)
	}

	job, err := s.jobs.SubmitDeletionJob(ctx, s.cfg.JobSystemID, appID, paramID, username)
	if err != nil {
		return nil, s.step(log, "job submission", username, err)
	}
	log.Info("deletion deferred to job backend", "job_id", job.ID, "status", job.Status)
	return job, nil
}

// resolveAppID returns the deletion app id, looking it up by name on first
// use and caching the result for later requests.
func (s *Service) resolveAppID(ctx context.Context) (string, error) {
	s.appMu.Lock()
	defer s.appMu.Unlock()
	if s.appID != "" {
		return s.appID, nil
	}
	if s.cfg.JobAppName == "" {
		return "", domain.ErrConfiguration("no deletion app configured")
	}
	id, err := s.jobs.FindAppID(ctx, s.cfg.JobSystemID, s.cfg.JobAppName)
	if err != nil {
		return "", fmt.Errorf("look up deletion app %q: %w", s.cfg.JobAppName, err)
	}
	if id == "" {
		return "", domain.ErrConfiguration("deletion app %q not found in system %s", s.cfg.JobAppName, s.cfg.JobSystemID)
	}
	s.logger.Info("resolved deletion app", "app_name", s.cfg.JobAppName, "app_id", id)
	s.appID = id
	return id, nil
}

// DeletionStatus fetches the live status of a previously submitted
// deletion job straight from the backend.
func (s *Service) DeletionStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	if s.jobs == nil {
		return nil, domain.ErrServiceUnavailable("job backend is not configured")
	}
	return s.jobs.JobStatus(ctx, jobID)
}

// ListDeletions lists deletion jobs known to the backend, optionally
// filtered by status.
func (s *Service) ListDeletions(ctx context.Context, status string) ([]domain.Job, error) {
	if s.jobs == nil {
		return nil, domain.ErrServiceUnavailable("job backend is not configured")
	}
	return s.jobs.ListJobs(ctx, status)
}

// step logs a failed orchestration step and wraps the error with enough
// context to identify the step and user from the message alone.
func (s *Service) step(log *slog.Logger, step, username string, err error) error {
	log.Error("provisioning step failed", "step", step, "error", err)
	return fmt.Errorf("%s for %s: %w", step, username, err)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func owns(perms []domain.PathPermission, principal string) bool {
	for _, p := range perms {
		if p.Username == principal && p.Permission == domain.PermissionOwn {
			return true
		}
	}
	return false
}
