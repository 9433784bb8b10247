package http

import (
	"context"
	"net/http"
	"time"

	"budgettracker/internal/auth"
	"budgettracker/internal/core"
	"budgettracker/internal/log"
	"budgettracker/internal/store"
)

// entity is a record the API can create and fully replace.
type entity[T any] interface {
	core.Record
	ForCreate(ownerID, id string, now time.Time) T
	ForReplace(existing T, now time.Time) T
	Validate() error
}

// resource serves one collection under /api/<name>, always scoped to the
// authenticated owner.
type resource[T entity[T]] struct {
	name    string
	store   store.Store[T]
	timeout time.Duration
	newID   func() string
	now     func() time.Time
}

func (rs *resource[T]) register(mux *http.ServeMux) {
	base := "/api/" + rs.name
	mux.HandleFunc("GET "+base, rs.list)
	mux.HandleFunc("POST "+base, rs.create)
	mux.HandleFunc("GET "+base+"/{id}", rs.get)
	mux.HandleFunc("PUT "+base+"/{id}", rs.update)
	mux.HandleFunc("DELETE "+base+"/{id}", rs.delete)
}

// call bounds a single store operation.
func (rs *resource[T]) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if rs.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, rs.timeout)
}

func ownerFrom(r *http.Request) string {
	if id, ok := auth.OwnerFromContext(r.Context()); ok {
		return id
	}
	return auth.Anonymous
}

func (rs *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := rs.call(r.Context())
	defer cancel()

	items, err := rs.store.ListByOwner(ctx, ownerFrom(r))
	if err != nil {
		writeStoreError(w, r, err, rs.name, log.OpList, "")
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

// lookup fetches the caller's record. found is false when the response has
// already been written.
func (rs *resource[T]) lookup(w http.ResponseWriter, r *http.Request, id, op string) (T, bool) {
	ctx, cancel := rs.call(r.Context())
	defer cancel()

	record, found, err := rs.store.GetByID(ctx, id, ownerFrom(r))
	if err != nil {
		writeStoreError(w, r, err, rs.name, op, id)
		return record, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "Not found")
		return record, false
	}
	return record, true
}

func (rs *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	record, ok := rs.lookup(w, r, r.PathValue("id"), log.OpRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rs *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	var input T
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := input.ForCreate(ownerFrom(r), rs.newID(), rs.now())
	if err := record.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := rs.call(r.Context())
	defer cancel()

	created, err := rs.store.Create(ctx, record)
	if err != nil {
		writeStoreError(w, r, err, rs.name, log.OpCreate, record.RecordID())
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogRecordChanged(r.Context(), log.OpCreate, rs.name, created.RecordID(), created.RecordOwner())
	w.Header().Set("Location", "/api/"+rs.name+"/"+created.RecordID())
	writeJSON(w, http.StatusCreated, created)
}

func (rs *resource[T]) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Absence wins over a bad body.
	existing, ok := rs.lookup(w, r, id, log.OpUpdate)
	if !ok {
		return
	}

	var input T
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := input.ForReplace(existing, rs.now())
	if err := record.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := rs.call(r.Context())
	defer cancel()

	if err := rs.store.Update(ctx, id, record); err != nil {
		writeStoreError(w, r, err, rs.name, log.OpUpdate, id)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogRecordChanged(r.Context(), log.OpUpdate, rs.name, id, record.RecordOwner())
	w.WriteHeader(http.StatusNoContent)
}

func (rs *resource[T]) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := rs.lookup(w, r, id, log.OpDelete); !ok {
		return
	}

	ctx, cancel := rs.call(r.Context())
	defer cancel()

	owner := ownerFrom(r)
	if err := rs.store.Delete(ctx, id, owner); err != nil {
		writeStoreError(w, r, err, rs.name, log.OpDelete, id)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogRecordChanged(r.Context(), log.OpDelete, rs.name, id, owner)
	w.WriteHeader(http.StatusNoContent)
}
