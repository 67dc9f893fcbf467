package store

import (
	"database/sql"
	"time"

	"github.com/firasghr/followfleet/models"
)

// workerRow is the sqlx scan target for a workers table row, flattening
// models.Worker's nested WorkerCreds/ProxyConfig/GroupAssignment into the
// columns a single SELECT returns.
type workerRow struct {
	ID        int64        `db:"id"`
	Handle    string       `db:"handle"`
	CreatedAt time.Time    `db:"created_at"`
	DeletedAt sql.NullTime `db:"deleted_at"`

	AuthToken         string `db:"auth_token"`
	CT0               string `db:"ct0"`
	ConsumerKey       string `db:"consumer_key"`
	ConsumerSecret    string `db:"consumer_secret"`
	BearerToken       string `db:"bearer_token"`
	AccessToken       string `db:"access_token"`
	AccessTokenSecret string `db:"access_token_secret"`
	UserAgent         string `db:"user_agent"`

	ProxyHost     string `db:"proxy_host"`
	ProxyPort     int    `db:"proxy_port"`
	ProxyUsername string `db:"proxy_username"`
	ProxyPassword string `db:"proxy_password"`
	ProxyScheme   string `db:"proxy_scheme"`

	DailyFollows         int          `db:"daily_follows"`
	TotalFollows         int          `db:"total_follows"`
	FollowingCount       int          `db:"following_count"`
	LastFollowedAt       sql.NullTime `db:"last_followed_at"`
	FailedFollowAttempts int          `db:"failed_follow_attempts"`
	RateLimitUntil       sql.NullTime `db:"rate_limit_until"`
	IsActive             bool         `db:"is_active"`
	ActivatedAt          sql.NullTime `db:"activated_at"`

	GroupNumber    int       `db:"group_number"`
	GroupUpdatedAt time.Time `db:"group_updated_at"`
}

func (r workerRow) toModel() *models.Worker {
	w := &models.Worker{
		ID:        r.ID,
		Handle:    r.Handle,
		CreatedAt: r.CreatedAt,
		Creds: models.WorkerCreds{
			AuthToken:         r.AuthToken,
			CT0:               r.CT0,
			ConsumerKey:       r.ConsumerKey,
			ConsumerSecret:    r.ConsumerSecret,
			BearerToken:       r.BearerToken,
			AccessToken:       r.AccessToken,
			AccessTokenSecret: r.AccessTokenSecret,
			UserAgent:         r.UserAgent,
		},
		Proxy: models.ProxyConfig{
			Host:     r.ProxyHost,
			Port:     r.ProxyPort,
			Username: r.ProxyUsername,
			Password: r.ProxyPassword,
			Scheme:   r.ProxyScheme,
		},
		DailyFollows:         r.DailyFollows,
		TotalFollows:         r.TotalFollows,
		FollowingCount:       r.FollowingCount,
		FailedFollowAttempts: r.FailedFollowAttempts,
		IsActive:             r.IsActive,
		Group: models.GroupAssignment{
			Group:     r.GroupNumber,
			UpdatedAt: r.GroupUpdatedAt,
		},
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		w.DeletedAt = &t
	}
	if r.LastFollowedAt.Valid {
		t := r.LastFollowedAt.Time
		w.LastFollowedAt = &t
	}
	if r.RateLimitUntil.Valid {
		t := r.RateLimitUntil.Time
		w.RateLimitUntil = &t
	}
	if r.ActivatedAt.Valid {
		t := r.ActivatedAt.Time
		w.ActivatedAt = &t
	}
	return w
}

// targetRow is the sqlx scan target for a follow_targets table row.
type targetRow struct {
	ID               int64         `db:"id"`
	Handle           string        `db:"handle"`
	Pool             string        `db:"pool"`
	InternalWorkerID sql.NullInt64 `db:"internal_worker_id"`
	UploadedAt       time.Time     `db:"uploaded_at"`
}

func (r targetRow) toModel() *models.FollowTarget {
	t := &models.FollowTarget{
		ID:         r.ID,
		Handle:     r.Handle,
		Pool:       models.Pool(r.Pool),
		UploadedAt: r.UploadedAt,
	}
	if r.InternalWorkerID.Valid {
		id := r.InternalWorkerID.Int64
		t.InternalWorker = &id
	}
	return t
}
