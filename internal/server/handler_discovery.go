package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "foamrun API",
		Version:     "v1",
		Description: "Read-only history of OpenFOAM case runs",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List runs, newest first. Accepts ?state=, ?limit= and ?offset="},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with stage records and result"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
