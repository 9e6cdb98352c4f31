package server

import (
	"net/http"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
)

type passageList struct {
	Passages []passage.Passage `json:"passages"`
}

func (s *Server) handleListPassages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ps, err := s.store.List(r.Context(), passage.ListOptions{
		Language: q.Get("language"),
		Tag:      q.Get("tag"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []passage.Passage{}
	}
	writeJSON(w, http.StatusOK, passageList{Passages: ps})
}

func (s *Server) handleCreatePassage(w http.ResponseWriter, r *http.Request) {
	var p passage.Passage
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Create(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("passage created", "passage_id", p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPassage(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPassage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p passage.Passage
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if p.ID != "" && p.ID != id {
		writeError(w, r, badRequest("body id %q does not match path id %q", p.ID, id))
		return
	}
	p.ID = id
	if err := s.store.Put(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePassage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("passage deleted", "passage_id", id)
	w.WriteHeader(http.StatusNoContent)
}
