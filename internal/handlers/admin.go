package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xelth-com/trainingcms/internal/collections"
	"github.com/xelth-com/trainingcms/internal/models"
)

// CollectionStatus is one row of the admin overview
type CollectionStatus struct {
	Name            string `json:"name"`
	Count           int64  `json:"count"`
	SnapshotEnabled bool   `json:"snapshot_enabled"`
	SnapshotPath    string `json:"snapshot_path"`
	Retention       bool   `json:"retention"`
}

// syncer resolves the {name} route variable
func (r *Router) syncer(w http.ResponseWriter, req *http.Request) (collections.Syncer, bool) {
	s, ok := r.Registry.Get(mux.Vars(req)["name"])
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown collection")
	}
	return s, ok
}

func (r *Router) listCollections(w http.ResponseWriter, req *http.Request) {
	out := make([]CollectionStatus, 0, len(r.Registry.Names()))
	for _, name := range r.Registry.Names() {
		s, _ := r.Registry.Get(name)
		count, err := s.Count(req.Context())
		if err != nil {
			respondSyncError(w, err)
			return
		}
		_, retained := r.Retention.Get(name)
		out = append(out, CollectionStatus{
			Name:            name,
			Count:           count,
			SnapshotEnabled: s.SnapshotEnabled(),
			SnapshotPath:    s.SnapshotPath(),
			Retention:       retained,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	s, ok := r.syncer(w, req)
	if !ok {
		return
	}
	records, err := s.Records(req.Context())
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (r *Router) deleteRecord(w http.ResponseWriter, req *http.Request) {
	s, ok := r.syncer(w, req)
	if !ok {
		return
	}
	if err := s.Delete(req.Context(), mux.Vars(req)["key"]); err != nil {
		respondSyncError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) exportCollection(w http.ResponseWriter, req *http.Request) {
	s, ok := r.syncer(w, req)
	if !ok {
		return
	}
	if err := s.Export(req.Context()); err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"collection": s.Name(),
		"path":       s.SnapshotPath(),
		"status":     "exported",
	})
}

func (r *Router) importCollection(w http.ResponseWriter, req *http.Request) {
	s, ok := r.syncer(w, req)
	if !ok {
		return
	}
	q := req.URL.Query()
	allowEmpty, _ := strconv.ParseBool(q.Get("allow_empty"))
	dryRun, _ := strconv.ParseBool(q.Get("dry_run"))

	res, err := s.Import(req.Context(), collections.ImportOptions{AllowEmpty: allowEmpty, DryRun: dryRun})
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) planImport(w http.ResponseWriter, req *http.Request) {
	s, ok := r.syncer(w, req)
	if !ok {
		return
	}
	res, err := s.Plan(req.Context())
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// expireCollection runs a retention pass now, through the collection's scheduler so it
// cannot overlap a scheduled pass
func (r *Router) expireCollection(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	sched, ok := r.Retention.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, "Retention is not configured for this collection")
		return
	}

	res, err := sched.Tick(req.Context())
	if err != nil {
		respondSyncError(w, err)
		return
	}
	out := map[string]interface{}{
		"collection": name,
		"expired":    res.Expired,
		"skipped":    res.Skipped,
	}
	if res.ExportErr != nil {
		out["export_error"] = res.ExportErr.Error()
	}
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) markMessageRead(w http.ResponseWriter, req *http.Request) {
	if r.Registry.Messages == nil {
		respondError(w, http.StatusNotFound, "Messages are disabled")
		return
	}
	msg, err := r.Registry.Messages.Mutate(req.Context(), mux.Vars(req)["reference"], func(m *models.Message) error {
		m.Read = true
		return nil
	})
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (r *Router) listSyncRuns(w http.ResponseWriter, req *http.Request) {
	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	q := r.DB.WithContext(req.Context()).Order("id DESC").Limit(limit)
	if c := req.URL.Query().Get("collection"); c != "" {
		q = q.Where("collection = ?", c)
	}
	if d := req.URL.Query().Get("direction"); d != "" {
		q = q.Where("direction = ?", d)
	}

	var runs []models.SyncRun
	if err := q.Find(&runs).Error; err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}
