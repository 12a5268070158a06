// Package auth guards the admin log view with a username/password pair
// supplied through HTTP Basic authentication.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
	"golang.org/x/crypto/bcrypt"
)

// Failure reasons reported to metrics. They never reach the client.
const (
	reasonMissing  = "missing"
	reasonInvalid  = "invalid"
	reasonDisabled = "disabled"
)

// Gate compares supplied credentials with the configured pair.
type Gate struct {
	userDigest [sha256.Size]byte
	password   string
	bcryptHash []byte
	realm      string
	enabled    bool

	logger  *logrus.Entry
	metrics *metrics.Manager
}

// NewGate creates a gate for the given credentials. When either value is
// empty the gate denies every request. A password starting with a bcrypt
// prefix is treated as a hash.
func NewGate(username, password, realm string, metricsManager *metrics.Manager) *Gate {
	if realm == "" {
		realm = "restricted"
	}

	g := &Gate{
		realm:   realm,
		enabled: username != "" && password != "",
		logger:  utils.GetLogger().WithField("component", "auth"),
		metrics: metricsManager,
	}

	g.userDigest = sha256.Sum256([]byte(username))
	if isBcryptHash(password) {
		g.bcryptHash = []byte(password)
	} else {
		g.password = password
	}

	if !g.enabled {
		g.logger.Warn("Admin credentials not configured, admin routes are disabled")
	}
	return g
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Enabled reports whether admin credentials are configured.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Check verifies both credential components. Both are always evaluated and
// compared in constant time; the error does not say which one was wrong.
func (g *Gate) Check(username, password string) error {
	if !g.enabled {
		return utils.NewAppError(utils.ErrCodeAuth, "Admin access is disabled")
	}

	suppliedUser := sha256.Sum256([]byte(username))
	userOK := subtle.ConstantTimeCompare(suppliedUser[:], g.userDigest[:])

	var passOK int
	if g.bcryptHash != nil {
		if bcrypt.CompareHashAndPassword(g.bcryptHash, []byte(password)) == nil {
			passOK = 1
		}
	} else {
		supplied := sha256.Sum256([]byte(password))
		want := sha256.Sum256([]byte(g.password))
		passOK = subtle.ConstantTimeCompare(supplied[:], want[:])
	}

	if userOK&passOK != 1 {
		return utils.NewAppError(utils.ErrCodeAuth, "Invalid credentials")
	}
	return nil
}

// Middleware admits a request only when it carries valid Basic credentials.
// Rejected requests get a challenge and never reach next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()

		reason := ""
		switch {
		case !g.enabled:
			reason = reasonDisabled
		case !ok:
			reason = reasonMissing
		case g.Check(username, password) != nil:
			reason = reasonInvalid
		}

		if reason != "" {
			if g.metrics != nil {
				g.metrics.GetPrometheusMetrics().RecordAuthFailure(reason)
			}
			if reason != reasonMissing {
				g.logger.WithFields(logrus.Fields{
					"reason":    reason,
					"path":      r.URL.Path,
					"remote_ip": r.RemoteAddr,
				}).Warn("Admin authentication failed")
			}
			g.challenge(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, g.realm))
	http.Error(w, "Authentication required", http.StatusUnauthorized)
}
