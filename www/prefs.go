package www

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	sessionName   = "monitor_prefs"
	sessionKeyLen = 32
)

// prefStore remembers per-browser preferences. It identifies nobody; the
// employee stored here only preselects the chooser.
type prefStore struct {
	store *sessions.CookieStore
	log   *zap.Logger
}

// newPrefStore signs cookies with the base64 secret from config. Without a
// usable secret a random key is generated and cookies reset on restart.
func newPrefStore(secret string, logger *zap.Logger) *prefStore {
	key, err := sessionKey(secret)
	switch {
	case err != nil:
		logger.Warn("session_secret rejected, using a random key; preferences reset on restart", zap.Error(err))
	case key == nil:
		logger.Info("no session_secret configured, using a random key")
	}
	if key == nil {
		key = make([]byte, sessionKeyLen)
		if _, err := rand.Read(key); err != nil {
			logger.Error("generate session key", zap.Error(err))
		}
	}

	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60, // 30 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &prefStore{store: cs, log: logger}
}

// sessionKey decodes secret. An empty secret yields a nil key and no error.
func sessionKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, err
	}
	if len(key) < sessionKeyLen {
		return nil, errShortSecret
	}
	return key, nil
}

var errShortSecret = errors.New("session_secret must decode to at least 32 bytes")

// get returns the browser's session. A cookie signed with another key yields
// a fresh session.
func (s *prefStore) get(r *http.Request) *sessions.Session {
	sess, err := s.store.Get(r, sessionName)
	if err != nil {
		s.log.Debug("discarding unreadable preference cookie", zap.Error(err))
	}
	return sess
}

func (s *prefStore) employee(r *http.Request) string {
	name, _ := s.get(r).Values["employee"].(string)
	return name
}

func (s *prefStore) setEmployee(w http.ResponseWriter, r *http.Request, name string) {
	sess := s.get(r)
	sess.Values["employee"] = name
	if err := sess.Save(r, w); err != nil {
		s.log.Warn("save preference cookie", zap.String("employee", name), zap.Error(err))
	}
}
