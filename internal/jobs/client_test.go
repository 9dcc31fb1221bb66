package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-conductor/internal/domain"
)

// seededClient returns a Client whose token cache already holds a
// long-lived credential, so tests exercise the job API without standing up
// a token endpoint.
func seededClient(baseURL string) *Client {
	cache := newTestCache("http://unused.invalid")
	cache.cur.Store(&credential{token: "seeded-token", expiry: time.Now().Add(time.Hour)})
	return NewClient(baseURL, cache, 5*time.Second, discardLogger())
}

func TestSelectUsernameParameter(t *testing.T) {
	param := func(id, label, typ string, required, visible bool, def any) domain.AppParameter {
		return domain.AppParameter{ID: id, Label: label, Type: typ, Required: required, Visible: visible, DefaultValue: def}
	}
	groups := func(params ...domain.AppParameter) []domain.AppParameterGroup {
		return []domain.AppParameterGroup{{ID: "g1", Parameters: params}}
	}

	t.Run("labeled_parameter_wins", func(t *testing.T) {
		id, degraded := selectUsernameParameter(groups(
			param("p1", "", "Text", true, true, nil),
			param("p2", "Username", "Text", false, false, nil),
		))
		assert.Equal(t, "p2", id)
		assert.False(t, degraded)
	})

	t.Run("label_match_is_case_insensitive", func(t *testing.T) {
		id, _ := selectUsernameParameter(groups(
			param("p1", "Target User Name", "Text", true, true, nil),
		))
		assert.Equal(t, "p1", id)
	})

	t.Run("unlabeled_required_text_without_default", func(t *testing.T) {
		id, degraded := selectUsernameParameter(groups(
			param("p1", "Verbosity", "Text", true, true, nil),
			param("p2", "", "Text", true, true, "prefilled"),
			param("p3", "", "Text", true, true, nil),
		))
		assert.Equal(t, "p3", id)
		assert.False(t, degraded)
	})

	t.Run("last_visible_required_is_degraded", func(t *testing.T) {
		id, degraded := selectUsernameParameter(groups(
			param("p1", "Verbosity", "Flag", true, true, nil),
			param("p2", "Depth", "Integer", true, true, nil),
			param("p3", "Hidden", "Text", true, false, nil),
		))
		assert.Equal(t, "p2", id)
		assert.True(t, degraded)
	})

	t.Run("nothing_matches", func(t *testing.T) {
		id, degraded := selectUsernameParameter(groups(
			param("p1", "Optional", "Text", false, true, nil),
		))
		assert.Empty(t, id)
		assert.False(t, degraded)
	})
}

func TestClient_FindAppID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/de", r.URL.Path)
		assert.Equal(t, "Bearer seeded-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("search"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"apps": []map[string]string{
				{"id": "app-1", "name": "purge users"},
				{"id": "app-2", "name": "Delete User"},
				{"id": "app-3", "name": "delete user"},
			},
		})
	}))
	defer srv.Close()
	client := seededClient(srv.URL)

	t.Run("exact_match_preferred", func(t *testing.T) {
		id, err := client.FindAppID(context.Background(), "de", "delete user")
		require.NoError(t, err)
		assert.Equal(t, "app-3", id)
	})

	t.Run("case_insensitive_fallback", func(t *testing.T) {
		id, err := client.FindAppID(context.Background(), "de", "DELETE USER")
		require.NoError(t, err)
		assert.Equal(t, "app-2", id)
	})

	t.Run("no_match_returns_empty", func(t *testing.T) {
		id, err := client.FindAppID(context.Background(), "de", "nonexistent")
		require.NoError(t, err)
		assert.Empty(t, id)
	})
}

func TestClient_SubmitDeletionJob(t *testing.T) {
	var captured submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/launch/de/app-2", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-9", "status": "Submitted"})
	}))
	defer srv.Close()

	client := seededClient(srv.URL)
	fixed := time.Unix(1700000000, 0)
	client.now = func() time.Time { return fixed }

	job, err := client.SubmitDeletionJob(context.Background(), "de", "app-2", "p7", "jdoe")
	require.NoError(t, err)

	assert.Equal(t, "delete-user-jdoe-1700000000", captured.Name)
	assert.Equal(t, map[string]string{"p7": "jdoe"}, captured.Config)
	assert.Equal(t, "job-9", job.ID)
	assert.Equal(t, "jdoe", job.Username)
	assert.Equal(t, domain.JobSubmitted, job.Status)
	assert.Equal(t, fixed, job.SubmittedAt)
}

func TestClient_JobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apps/analyses/job-9/status":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id": "job-9", "status": "Running", "name": "delete-user-jdoe-1700000000",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := seededClient(srv.URL)

	t.Run("passthrough", func(t *testing.T) {
		job, err := client.JobStatus(context.Background(), "job-9")
		require.NoError(t, err)
		assert.Equal(t, domain.JobRunning, job.Status)
		assert.Equal(t, "jdoe", job.Username)
	})

	t.Run("unknown_job_is_not_found", func(t *testing.T) {
		_, err := client.JobStatus(context.Background(), "missing")
		var notFound *domain.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestClient_UnauthorizedIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()
	client := seededClient(srv.URL)

	_, err := client.JobStatus(context.Background(), "job-9")
	var authErr *domain.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestClient_ListJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyses", r.URL.Path)
		assert.Equal(t, "Running", r.URL.Query().Get("status"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"analyses": []map[string]string{
				{"id": "job-1", "status": "Running", "name": "delete-user-alice-1700000001"},
				{"id": "job-2", "status": "Running", "name": "ad-hoc analysis"},
			},
		})
	}))
	defer srv.Close()
	client := seededClient(srv.URL)

	jobs, err := client.ListJobs(context.Background(), "Running")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "alice", jobs[0].Username)
	assert.Empty(t, jobs[1].Username)
}

func TestUsernameFromSubmissionName(t *testing.T) {
	assert.Equal(t, "jdoe", usernameFromSubmissionName("delete-user-jdoe-1700000000"))
	assert.Equal(t, "j-doe", usernameFromSubmissionName("delete-user-j-doe-1700000000"))
	assert.Empty(t, usernameFromSubmissionName("delete-user-jdoe-17x0"))
	assert.Empty(t, usernameFromSubmissionName("something-else"))
}
