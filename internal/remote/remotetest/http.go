package remotetest

import (
	"io"
	"net/http"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/proto"
)

// Handler serves the HTTP cache protocol, with or without an instance prefix.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	routes := func(r chi.Router) {
		r.Get("/ac/{hash}", s.getAction)
		r.Put("/ac/{hash}", s.putAction)
		r.Head("/cas/{hash}", s.headBlob)
		r.Get("/cas/{hash}", s.getBlob)
		r.Put("/cas/{hash}", s.putBlob)
	}
	r.Group(routes)
	r.Route("/{instance}", routes)
	return r
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	s.record("GetActionResult")
	result, ok := s.ActionResult(chi.URLParam(r, "hash"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := proto.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

func (s *Server) putAction(w http.ResponseWriter, r *http.Request) {
	s.record("UpdateActionResult")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := &repb.ActionResult{}
	if err := proto.Unmarshal(body, result); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SetActionResult(chi.URLParam(r, "hash"), result)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) headBlob(w http.ResponseWriter, r *http.Request) {
	s.record("FindMissingBlobs")
	if _, ok := s.Blob(chi.URLParam(r, "hash")); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	s.record("Read")
	data, ok := s.Blob(chi.URLParam(r, "hash"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	s.record("Write")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store(chi.URLParam(r, "hash"), body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
