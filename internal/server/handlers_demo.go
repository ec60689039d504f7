package server

import (
	"net/http"

	"github.com/shivaxm/uploadsvc/internal/demo"
)

func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	_, cookieValue := s.demo.Issue()

	http.SetCookie(w, &http.Cookie{
		Name:     demo.CookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.isProd,
		MaxAge:   int(demo.TTL.Seconds()),
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
