package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/olinky/olinkyd/internal/controller"
	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/images"
)

// HealthHandler provides a health check endpoint
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.opts.Version})
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	body := map[string]any{"status": st}
	if err != nil {
		// Partial snapshots are still useful.
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": gadget.Profiles()})
}

func (s *Server) ModuleCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.CheckModule(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"module": status})
}

func (s *Server) MountHandler(w http.ResponseWriter, r *http.Request) {
	var req controller.MountRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "Invalid request body")
		return
	}

	res, err := s.ctrl.Mount(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mount": res})
}

func (s *Server) UnmountHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.Unmount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teardown": report})
}

func (s *Server) StartPXEHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StartPXE(r.Context())
	if err != nil {
		if gadget.IsKind(err, gadget.KindNetwork) {
			// The gadget is up; only the interface is missing.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"pxe":    res,
				"error":  gadget.UserMessage(gadget.KindNetwork),
				"detail": err.Error(),
				"kind":   gadget.KindNetwork,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pxe": res})
}

func (s *Server) StopPXEHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopPXE(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) RebootHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reboot(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{})
}

func (s *Server) ListImagesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.ctrl.Library().List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": list, "dir": s.ctrl.Library().Dir})
}

type createImageRequest struct {
	Name   string        `json:"name"`
	Size   int64         `json:"size"`
	Format images.Format `json:"format"`
	Label  string        `json:"label"`
}

func (s *Server) CreateImageHandler(w http.ResponseWriter, r *http.Request) {
	var req createImageRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "Invalid request body")
		return
	}

	img, err := s.ctrl.Library().Create(req.Name, req.Size, req.Format, req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"image": img})
}

func (s *Server) InspectImageHandler(w http.ResponseWriter, r *http.Request) {
	details, err := s.ctrl.Library().Inspect(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": details})
}

func (s *Server) DeleteImageHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.ctrl.Library().Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	logger(r).WithField("image", name).Info("Image deleted")
	writeJSON(w, http.StatusOK, map[string]any{})
}
