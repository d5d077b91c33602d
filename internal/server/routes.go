package server

import "net/http"

// WebSocketPrefix is where room connections are mounted: /ws/{room}.
const WebSocketPrefix = "/ws"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(s *Server) *http.ServeMux {
	ws := http.StripPrefix(WebSocketPrefix, http.HandlerFunc(s.WebSocketHandler))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/api/rooms", s.RoomsHandler)
	mux.HandleFunc("/login", s.LoginHandler)
	mux.HandleFunc("/logout", s.LogoutHandler)
	mux.Handle("/metrics", s.MetricsHandler())
	mux.Handle(WebSocketPrefix, ws)
	mux.Handle(WebSocketPrefix+"/", ws)
	return mux
}
