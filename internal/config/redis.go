package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Enabled reports whether a Redis server is configured.
func (c RedisRuntimeConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// URLValue returns the connection URL. Without an explicit url it is
// assembled from host, port, credentials, db and params; without a host
// it is empty.
func (c RedisRuntimeConfig) URLValue() string {
	if raw := normalizeRedisRawURL(c.URL); raw != "" {
		return raw
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}

	port, db := c.Port, c.DB
	if port == 0 {
		port = defaultRedisPort
	}
	if db < 0 {
		db = defaultRedisDB
	}
	u := url.URL{
		Scheme:   redisScheme(c.Scheme, c.TLS),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + strconv.Itoa(db),
		User:     redisUserinfo(c.Username, c.Password),
		RawQuery: redisQuery(c.Params),
	}
	return u.String()
}

func redisScheme(scheme string, tls bool) string {
	switch s := strings.ToLower(strings.TrimSpace(scheme)); {
	case s == "redis" || s == "rediss":
		return s
	case tls:
		return "rediss"
	default:
		return "redis"
	}
}

func redisUserinfo(username, password string) *url.Userinfo {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	switch {
	case password != "":
		return url.UserPassword(username, password)
	case username != "":
		return url.User(username)
	default:
		return nil
	}
}

func redisQuery(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			q.Set(k, v)
		}
	}
	return q.Encode()
}
