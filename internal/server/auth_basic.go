package server

import (
	"fmt"
	"net/http"

	"vrac/internal/auth"
)

// requireAdmin guards the /v1 surface with HTTP basic auth against the
// provisioned admin accounts. Unknown usernames still burn one bcrypt
// comparison, so the response time does not reveal which accounts exist.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.rejectUnauthorized(w, r, fmt.Errorf("credentials required"))
			return
		}

		user, err := s.store.GetUserByUsername(r.Context(), username)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
			return
		}
		if user == nil || user.Disabled {
			auth.BurnVerification(password)
			s.rejectUnauthorized(w, r, fmt.Errorf("invalid credentials"))
			return
		}
		if !auth.VerifyPassword(user.PasswordHash, password) {
			s.rejectUnauthorized(w, r, fmt.Errorf("invalid credentials"))
			return
		}

		next(w, r)
	}
}

func (s *Server) rejectUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Basic realm="vrac admin", charset="UTF-8"`)
	s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(err))
}
