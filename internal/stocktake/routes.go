package stocktake

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock-takes", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{docNo}", func(r chi.Router) {
			r.Get("/", h.Show)
			r.Delete("/", h.Delete)
			r.Put("/remark", h.UpdateRemark)
			r.Post("/save", h.Save)
			r.Post("/post", h.Post)
			r.Route("/session", func(r chi.Router) {
				r.Post("/", h.BeginSession)
				r.Put("/filter", h.ApplyFilter)
				r.Post("/select", h.SelectItems)
				r.Post("/proceed", h.Proceed)
				r.Post("/back", h.Back)
				r.Put("/lines/{itemCode}/{uom}", h.UpdateLine)
			})
		})
	})
}
