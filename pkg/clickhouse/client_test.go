package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultConfig()
	WithAddr("ch.local", 0)(cfg)
	WithDatabase("coinpull")(cfg)
	WithCredentials("reader", "s3cret")(cfg)
	WithMaxExecutionTime(90 * time.Second)(cfg)

	u, err := url.Parse(buildDSN(*cfg))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9000", u.Host)
	assert.Equal(t, "/coinpull", u.Path)
	assert.Equal(t, "reader", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "s3cret", pw)
	assert.Equal(t, "90", u.Query().Get("max_execution_time"))
	assert.Equal(t, "5s", u.Query().Get("dial_timeout"))

	WithHTTP(true)(cfg)
	u, err = url.Parse(buildDSN(*cfg))
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := defaultConfig()
	WithAddr("ch.local", 8123)(cfg)
	WithPool(4, 8, 0)(cfg)
	require.NoError(t, cfg.validate())
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, 4, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)

	WithDatabase("")(cfg)
	assert.Error(t, cfg.validate())
}
