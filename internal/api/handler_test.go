package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-conductor/internal/domain"
	"portal-conductor/internal/service/accounts"
)

// fakeDirectory implements domain.Directory with overridable functions.
// Unset functions succeed with zero values.
type fakeDirectory struct {
	UserExistsFn func(ctx context.Context, username string) (bool, error)
	GetUserFn    func(ctx context.Context, username string) (*domain.DirectoryUser, error)
	UserGroupsFn func(ctx context.Context, username string) ([]string, error)
	AddToGroupFn func(ctx context.Context, username, group string) error
}

func (f *fakeDirectory) UserExists(ctx context.Context, username string) (bool, error) {
	if f.UserExistsFn != nil {
		return f.UserExistsFn(ctx, username)
	}
	return false, nil
}

func (f *fakeDirectory) GetUser(ctx context.Context, username string) (*domain.DirectoryUser, error) {
	if f.GetUserFn != nil {
		return f.GetUserFn(ctx, username)
	}
	return &domain.DirectoryUser{Username: username}, nil
}

func (f *fakeDirectory) CreateUser(context.Context, domain.Identity) error     { return nil }
func (f *fakeDirectory) DeleteUser(context.Context, string) error              { return nil }
func (f *fakeDirectory) SetPassword(context.Context, string, string) error     { return nil }
func (f *fakeDirectory) AdvancePasswordChanged(context.Context, string, int) error {
	return nil
}
func (f *fakeDirectory) ModifyAttribute(context.Context, string, string, string) error {
	return nil
}

func (f *fakeDirectory) UserGroups(ctx context.Context, username string) ([]string, error) {
	if f.UserGroupsFn != nil {
		return f.UserGroupsFn(ctx, username)
	}
	return nil, nil
}

func (f *fakeDirectory) AddToGroup(ctx context.Context, username, group string) error {
	if f.AddToGroupFn != nil {
		return f.AddToGroupFn(ctx, username, group)
	}
	return nil
}

func (f *fakeDirectory) RemoveFromGroup(context.Context, string, string) error { return nil }

func (f *fakeDirectory) ListGroups(context.Context) ([]domain.DirectoryGroup, error) {
	return []domain.DirectoryGroup{{Name: "community", GIDNumber: 10013}}, nil
}

func (f *fakeDirectory) GetGroup(_ context.Context, group string) (*domain.DirectoryGroup, error) {
	if group != "community" {
		return nil, domain.ErrNotFound("group %s not found", group)
	}
	return &domain.DirectoryGroup{Name: "community", GIDNumber: 10013, Members: []string{"jdoe"}}, nil
}

// fakeStore implements domain.ObjectStore; everything succeeds unless a
// function is overridden.
type fakeStore struct {
	HealthFn     func(ctx context.Context) error
	UserExistsFn func(ctx context.Context, username string) (bool, error)
}

func (f *fakeStore) Health(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}

func (f *fakeStore) UserExists(ctx context.Context, username string) (bool, error) {
	if f.UserExistsFn != nil {
		return f.UserExistsFn(ctx, username)
	}
	return false, nil
}

func (f *fakeStore) CreateUser(context.Context, string) error          { return nil }
func (f *fakeStore) DeleteUser(context.Context, string) error          { return nil }
func (f *fakeStore) SetPassword(context.Context, string, string) error { return nil }

func (f *fakeStore) HomePath(_ context.Context, username string) (string, error) {
	return "/zone/home/" + username, nil
}
func (f *fakeStore) CreateHome(context.Context, string) error { return nil }
func (f *fakeStore) DeleteHome(context.Context, string) error { return nil }

func (f *fakeStore) PathExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) Permissions(context.Context, string) ([]domain.PathPermission, error) {
	return nil, nil
}

func (f *fakeStore) AvailablePermissions(context.Context) ([]string, error) {
	return []string{"read", "write", "own"}, nil
}

func (f *fakeStore) Chmod(context.Context, domain.PathPermission) error { return nil }

func (f *fakeStore) RegisterService(context.Context, string, string, string) error {
	return nil
}

// fakeJobs implements domain.JobService.
type fakeJobs struct {
	JobStatusFn func(ctx context.Context, jobID string) (*domain.Job, error)
}

func (f *fakeJobs) FindAppID(context.Context, string, string) (string, error) {
	return "app-1", nil
}

func (f *fakeJobs) UsernameParameterID(context.Context, string, string) (string, error) {
	return "p1", nil
}

func (f *fakeJobs) SubmitDeletionJob(_ context.Context, _, _, _, username string) (*domain.Job, error) {
	return &domain.Job{ID: "job-1", Username: username, Status: domain.JobSubmitted}, nil
}

func (f *fakeJobs) JobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	if f.JobStatusFn != nil {
		return f.JobStatusFn(ctx, jobID)
	}
	return &domain.Job{ID: jobID, Status: domain.JobRunning}, nil
}

func (f *fakeJobs) ListJobs(context.Context, string) ([]domain.Job, error) { return nil, nil }

type handlerOptions struct {
	dir  *fakeDirectory
	jobs domain.JobService
}

func newTestRouter(t *testing.T, opts handlerOptions) http.Handler {
	t.Helper()
	if opts.dir == nil {
		opts.dir = &fakeDirectory{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{}
	svc := accounts.NewService(opts.dir, store, opts.jobs, accounts.Config{
		EveryoneGroup:  "everyone",
		CommunityGroup: "community",
		JobSystemID:    "de",
		JobAppName:     "portal-delete-user",
	}, logger)

	h := NewHandler(svc, opts.dir, store, nil, nil, nil, logger)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRoot(t *testing.T) {
	rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal-conductor")
}

func TestHandleCreateUser(t *testing.T) {
	t.Run("creates_and_returns_201", func(t *testing.T) {
		body := `{"username":"jdoe","given_name":"Jane","surname":"Doe","email":"jdoe@example.org","uid_number":5001,"password":"pw"}`
		rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodPost, "/users", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"jdoe"`)
	})

	t.Run("missing_username_is_400", func(t *testing.T) {
		body := `{"password":"pw","uid_number":5001}`
		rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodPost, "/users", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown_fields_are_rejected", func(t *testing.T) {
		body := `{"username":"jdoe","password":"pw","uid_number":5001,"bogus":true}`
		rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodPost, "/users", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("backend_outage_is_503", func(t *testing.T) {
		dir := &fakeDirectory{
			UserExistsFn: func(context.Context, string) (bool, error) {
				return false, domain.ErrServiceUnavailable("directory offline")
			},
		}
		body := `{"username":"jdoe","password":"pw","uid_number":5001}`
		rec := doRequest(t, newTestRouter(t, handlerOptions{dir: dir}), http.MethodPost, "/users", body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleChangePassword(t *testing.T) {
	rec := doRequest(t, newTestRouter(t, handlerOptions{}),
		http.MethodPost, "/users/jdoe/password", `{"password":"new"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, newTestRouter(t, handlerOptions{}),
		http.MethodPost, "/users/jdoe/password", `{"password":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteUser(t *testing.T) {
	rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodDelete, "/users/jdoe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deleted")
}

func TestHandleDeleteUserAsync(t *testing.T) {
	t.Run("submits_and_returns_202", func(t *testing.T) {
		h := newTestRouter(t, handlerOptions{jobs: &fakeJobs{}})
		rec := doRequest(t, h, http.MethodDelete, "/users/jdoe/async", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "job-1")
	})

	t.Run("no_job_backend_is_503", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodDelete, "/users/jdoe/async", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleDeletionStatus(t *testing.T) {
	jobs := &fakeJobs{
		JobStatusFn: func(_ context.Context, jobID string) (*domain.Job, error) {
			if jobID != "job-1" {
				return nil, domain.ErrNotFound("deletion job %q is unknown to the job service", jobID)
			}
			return &domain.Job{ID: jobID, Status: domain.JobRunning}, nil
		},
	}
	h := newTestRouter(t, handlerOptions{jobs: jobs})

	rec := doRequest(t, h, http.MethodGet, "/users/deletions/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.JobRunning))

	rec = doRequest(t, h, http.MethodGet, "/users/deletions/job-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListDeletions(t *testing.T) {
	h := newTestRouter(t, handlerOptions{jobs: &fakeJobs{}})
	rec := doRequest(t, h, http.MethodGet, "/users/deletions?status=Running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deletions":[]}`, rec.Body.String())
}

func TestHandleDirectoryRoutes(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		dir := &fakeDirectory{
			UserExistsFn: func(context.Context, string) (bool, error) { return true, nil },
		}
		rec := doRequest(t, newTestRouter(t, handlerOptions{dir: dir}),
			http.MethodGet, "/directory/users/jdoe/exists", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"exists":true}`, rec.Body.String())
	})

	t.Run("unknown_user_is_404", func(t *testing.T) {
		dir := &fakeDirectory{
			GetUserFn: func(_ context.Context, username string) (*domain.DirectoryUser, error) {
				return nil, domain.ErrNotFound("user %s not found in directory", username)
			},
		}
		rec := doRequest(t, newTestRouter(t, handlerOptions{dir: dir}),
			http.MethodGet, "/directory/users/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("groups_listing", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodGet, "/directory/groups", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "community")
	})

	t.Run("group_read_includes_members", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodGet, "/directory/groups/community", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"name":"community","gid_number":10013,"display_name":"","description":"","members":["jdoe"]}`, rec.Body.String())
	})

	t.Run("unknown_group_is_404", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodGet, "/directory/groups/nobody", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty_membership_is_an_empty_array", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodGet, "/directory/users/jdoe/groups", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"groups":[]}`, rec.Body.String())
	})
}

func TestHandleStoreRoutes(t *testing.T) {
	t.Run("health_ok", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}), http.MethodGet, "/datastore/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("available_permissions", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodGet, "/datastore/permissions/available", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"permissions":["read","write","own"]}`, rec.Body.String())
	})

	t.Run("register_service_defaults_to_home_path", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(t, handlerOptions{}),
			http.MethodPost, "/datastore/users/jdoe/services", `{"service":"viz"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), "/zone/home/jdoe")
	})
}

func TestMailingListRoutesWithoutBackend(t *testing.T) {
	h := newTestRouter(t, handlerOptions{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/mailinglists/staff/members"},
		{http.MethodGet, "/mailinglists/staff/members/jdoe@example.org"},
		{http.MethodPost, "/mailinglists/staff/members/jdoe@example.org"},
		{http.MethodDelete, "/mailinglists/staff/members/jdoe@example.org"},
	} {
		rec := doRequest(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHandleSendEmailWithoutRelay(t *testing.T) {
	rec := doRequest(t, newTestRouter(t, handlerOptions{}),
		http.MethodPost, "/emails/send", `{"to":["jdoe@example.org"],"text_body":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
