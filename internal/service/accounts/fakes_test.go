package accounts

import (
	"context"
	"sort"
	"sync"

	"portal-conductor/internal/domain"
)

// memDirectory is an in-memory domain.Directory for orchestration tests.
type memDirectory struct {
	mu     sync.Mutex
	users  map[string]domain.Identity
	groups map[string]map[string]bool // group -> member set
	calls  []string

	failOn map[string]error // method name -> error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:  map[string]domain.Identity{},
		groups: map[string]map[string]bool{},
		failOn: map[string]error{},
	}
}

func (d *memDirectory) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.failOn[call]
}

func (d *memDirectory) UserExists(_ context.Context, username string) (bool, error) {
	if err := d.record("UserExists"); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.users[username]
	return ok, nil
}

func (d *memDirectory) GetUser(_ context.Context, username string) (*domain.DirectoryUser, error) {
	if err := d.record("GetUser"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.users[username]
	if !ok {
		return nil, domain.ErrNotFound("user %s not found", username)
	}
	return &domain.DirectoryUser{Username: id.Username, Email: id.Email}, nil
}

func (d *memDirectory) CreateUser(_ context.Context, identity domain.Identity) error {
	if err := d.record("CreateUser"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[identity.Username]; ok {
		return domain.ErrConflict("user %s already exists", identity.Username)
	}
	d.users[identity.Username] = identity
	return nil
}

func (d *memDirectory) DeleteUser(_ context.Context, username string) error {
	if err := d.record("DeleteUser"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; !ok {
		return domain.ErrNotFound("user %s not found", username)
	}
	delete(d.users, username)
	return nil
}

func (d *memDirectory) SetPassword(_ context.Context, username, _ string) error {
	return d.record("SetPassword")
}

func (d *memDirectory) AdvancePasswordChanged(_ context.Context, username string, days int) error {
	return d.record("AdvancePasswordChanged")
}

func (d *memDirectory) ModifyAttribute(_ context.Context, username, attr, value string) error {
	return d.record("ModifyAttribute")
}

func (d *memDirectory) UserGroups(_ context.Context, username string) ([]string, error) {
	if err := d.record("UserGroups"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for group, members := range d.groups {
		if members[username] {
			out = append(out, group)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *memDirectory) AddToGroup(_ context.Context, username, group string) error {
	if err := d.record("AddToGroup"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.groups[group] == nil {
		d.groups[group] = map[string]bool{}
	}
	d.groups[group][username] = true
	return nil
}

func (d *memDirectory) RemoveFromGroup(_ context.Context, username, group string) error {
	if err := d.record("RemoveFromGroup"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups[group], username)
	return nil
}

func (d *memDirectory) ListGroups(_ context.Context) ([]domain.DirectoryGroup, error) {
	if err := d.record("ListGroups"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.groups))
	for g := range d.groups {
		names = append(names, g)
	}
	sort.Strings(names)
	out := make([]domain.DirectoryGroup, 0, len(names))
	for _, name := range names {
		out = append(out, domain.DirectoryGroup{Name: name})
	}
	return out, nil
}

func (d *memDirectory) GetGroup(_ context.Context, group string) (*domain.DirectoryGroup, error) {
	if err := d.record("GetGroup"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.groups[group]
	if !ok {
		return nil, domain.ErrNotFound("group %s not found", group)
	}
	out := domain.DirectoryGroup{Name: group}
	for m := range members {
		out.Members = append(out.Members, m)
	}
	sort.Strings(out.Members)
	return &out, nil
}

func (d *memDirectory) calls2(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}

// memStore is an in-memory domain.ObjectStore.
type memStore struct {
	mu        sync.Mutex
	users     map[string]bool
	passwords map[string]string
	paths     map[string]bool
	perms     map[string][]domain.PathPermission
	calls     []string

	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]bool{},
		passwords: map[string]string{},
		paths:     map[string]bool{},
		perms:     map[string][]domain.PathPermission{},
		failOn:    map[string]error{},
	}
}

func (s *memStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.failOn[call]
}

func (s *memStore) Health(_ context.Context) error { return s.record("Health") }

func (s *memStore) UserExists(_ context.Context, username string) (bool, error) {
	if err := s.record("UserExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username], nil
}

func (s *memStore) CreateUser(_ context.Context, username string) error {
	if err := s.record("CreateUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[username] {
		return domain.ErrConflict("store user %s already exists", username)
	}
	s.users[username] = true
	return nil
}

func (s *memStore) DeleteUser(_ context.Context, username string) error {
	if err := s.record("DeleteUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
	return nil
}

func (s *memStore) SetPassword(_ context.Context, username, password string) error {
	if err := s.record("SetPassword"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[username] = password
	return nil
}

func (s *memStore) HomePath(_ context.Context, username string) (string, error) {
	if err := s.record("HomePath"); err != nil {
		return "", err
	}
	return "/zone/home/" + username, nil
}

func (s *memStore) CreateHome(_ context.Context, username string) error {
	if err := s.record("CreateHome"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths["/zone/home/"+username] = true
	return nil
}

func (s *memStore) DeleteHome(_ context.Context, username string) error {
	if err := s.record("DeleteHome"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paths, "/zone/home/"+username)
	return nil
}

func (s *memStore) PathExists(_ context.Context, path string) (bool, error) {
	if err := s.record("PathExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[path], nil
}

func (s *memStore) Permissions(_ context.Context, path string) ([]domain.PathPermission, error) {
	if err := s.record("Permissions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PathPermission(nil), s.perms[path]...), nil
}

func (s *memStore) AvailablePermissions(_ context.Context) ([]string, error) {
	if err := s.record("AvailablePermissions"); err != nil {
		return nil, err
	}
	return []string{"read", "write", "own"}, nil
}

func (s *memStore) Chmod(_ context.Context, perm domain.PathPermission) error {
	if err := s.record("Chmod"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[perm.Path] = append(s.perms[perm.Path], perm)
	return nil
}

func (s *memStore) RegisterService(_ context.Context, username, path, storeUser string) error {
	return s.record("RegisterService")
}

func (s *memStore) calls2(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

// fakeJobService stubs the job backend with overridable functions.
type fakeJobService struct {
	FindAppIDFn           func(ctx context.Context, systemID, name string) (string, error)
	UsernameParameterIDFn func(ctx context.Context, systemID, appID string) (string, error)
	SubmitDeletionJobFn   func(ctx context.Context, systemID, appID, paramID, username string) (*domain.Job, error)
	JobStatusFn           func(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsFn            func(ctx context.Context, status string) ([]domain.Job, error)

	mu          sync.Mutex
	findCalls   int
	submitCalls int
}

func (f *fakeJobService) FindAppID(ctx context.Context, systemID, name string) (string, error) {
	f.mu.Lock()
	f.findCalls++
	f.mu.Unlock()
	return f.FindAppIDFn(ctx, systemID, name)
}

func (f *fakeJobService) UsernameParameterID(ctx context.Context, systemID, appID string) (string, error) {
	return f.UsernameParameterIDFn(ctx, systemID, appID)
}

func (f *fakeJobService) SubmitDeletionJob(ctx context.Context, systemID, appID, paramID, username string) (*domain.Job, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	return f.SubmitDeletionJobFn(ctx, systemID, appID, paramID, username)
}

func (f *fakeJobService) JobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return f.JobStatusFn(ctx, jobID)
}

func (f *fakeJobService) ListJobs(ctx context.Context, status string) ([]domain.Job, error) {
	return f.ListJobsFn(ctx, status)
}
