package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/followfleet/models"
)

func TestWorkerCreds_Valid(t *testing.T) {
	full := models.WorkerCreds{
		AuthToken: "a", CT0: "b",
		ConsumerKey: "ck", ConsumerSecret: "cs",
		AccessToken: "at", AccessTokenSecret: "ats",
	}
	assert.True(t, full.Valid())

	missing := full
	missing.CT0 = ""
	assert.False(t, missing.Valid())
}

func TestWorker_RateLimited(t *testing.T) {
	now := time.Now()
	w := &models.Worker{}
	assert.False(t, w.RateLimited(now))

	future := now.Add(5 * time.Minute)
	w.RateLimitUntil = &future
	assert.True(t, w.RateLimited(now))

	past := now.Add(-5 * time.Minute)
	w.RateLimitUntil = &past
	assert.False(t, w.RateLimited(now))
}

func TestWorker_SoftDeleted(t *testing.T) {
	w := &models.Worker{}
	assert.False(t, w.SoftDeleted())
	now := time.Now()
	w.DeletedAt = &now
	assert.True(t, w.SoftDeleted())
}

func TestProgressState_Terminal(t *testing.T) {
	assert.False(t, models.ProgressPending.Terminal())
	assert.False(t, models.ProgressInProgress.Terminal())
	assert.True(t, models.ProgressCompleted.Terminal())
	assert.True(t, models.ProgressFailed.Terminal())
}

func TestProxyConfig_Validate(t *testing.T) {
	valid := models.ProxyConfig{Host: "10.0.0.1", Port: 8080, Scheme: "http"}
	assert.NoError(t, valid.Validate())

	defaultScheme := models.ProxyConfig{Host: "10.0.0.1", Port: 8080}
	assert.NoError(t, defaultScheme.Validate())

	badScheme := valid
	badScheme.Scheme = "socks5"
	assert.Error(t, badScheme.Validate())

	badPort := valid
	badPort.Port = 0
	assert.Error(t, badPort.Validate())

	badPort.Port = 70000
	assert.Error(t, badPort.Validate())

	noHost := valid
	noHost.Host = ""
	assert.Error(t, noHost.Validate())
}

func TestProxyConfig_URL(t *testing.T) {
	p := models.ProxyConfig{Host: "10.0.0.1", Port: 8080, Username: "user", Password: "p@ss", Scheme: "http"}
	u, err := p.URL()
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "10.0.0.1:8080", u.Host)
	assert.Equal(t, "user", u.User.Username())

	_, err = models.ProxyConfig{Port: 0}.URL()
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	valid := models.Settings{ScheduleGroups: 3, IntervalMinutes: 16, InternalRatio: 1, ExternalRatio: 1}
	assert.NoError(t, valid.Validate())

	badGroups := valid
	badGroups.ScheduleGroups = 0
	assert.Error(t, badGroups.Validate())

	badInterval := valid
	badInterval.IntervalMinutes = 0
	assert.Error(t, badInterval.Validate())

	badRatio := valid
	badRatio.InternalRatio = 0
	badRatio.ExternalRatio = 0
	assert.Error(t, badRatio.Validate())
}
