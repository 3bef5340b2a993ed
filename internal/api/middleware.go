package api

import (
	"fmt"
	"net/http"
)

func (s *SignalApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware attaches the session identity to the request context
// when a verifiable token is presented. A missing or invalid token is not an
// error here: the signaling connection may be anonymous and identify over
// the wire.
func (s *SignalApp) sessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			if tokenCookie, err := r.Cookie(tokenCookieKey); err == nil {
				tokenString = tokenCookie.Value
			}
		}

		ctx := r.Context()
		if tokenString != "" {
			user, err := s.verifySessionToken(tokenString)
			if err != nil {
				s.log.Printf("rejecting session token: %v", err)
			} else {
				ctx = WithSessionUser(ctx, user)
			}
		}

		next(w, r.WithContext(ctx))
	}
}

// requireSession is sessionMiddleware for endpoints that must not be
// reachable anonymously.
func (s *SignalApp) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return s.sessionMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionUser(r.Context()); !ok {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r)
	})
}
