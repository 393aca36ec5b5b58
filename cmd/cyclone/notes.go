package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/searchktools/cyclone/app"
	"github.com/searchktools/cyclone/core"
	"github.com/searchktools/cyclone/core/http"
	"github.com/searchktools/cyclone/core/router"
	"github.com/searchktools/cyclone/core/sse"
	"github.com/searchktools/cyclone/core/store"
)

const noteKind = "note"

var validate = validator.New()

type noteInput struct {
	Title string   `json:"title" validate:"required,max=200"`
	Body  string   `json:"body" validate:"max=10000"`
	Tags  []string `json:"tags" validate:"max=16,dive,min=1,max=32"`
}

func (in noteInput) fields() map[string]any {
	tags := make([]any, len(in.Tags))
	for i, t := range in.Tags {
		tags[i] = t
	}
	return map[string]any{"title": in.Title, "body": in.Body, "tags": tags}
}

type note struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Tags    []string  `json:"tags"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

func noteFrom(rec *store.Record) note {
	n := note{ID: rec.ID, Tags: []string{}, Created: rec.Created, Updated: rec.Updated}
	n.Title, _ = rec.Fields["title"].(string)
	n.Body, _ = rec.Fields["body"].(string)
	if tags, ok := rec.Fields["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				n.Tags = append(n.Tags, s)
			}
		}
	}
	return n
}

// notesAPI serves CRUD over the store and announces changes on the
// broker.
type notesAPI struct {
	store  store.Store
	broker *sse.Broker
	routes *router.Router
	app    *app.Application
}

func (api *notesAPI) register(a *app.Application, keepalive time.Duration) error {
	api.app = a
	api.routes = a.Router()

	r := a.Router()
	if err := r.GET("/health", api.health, router.Name("health")); err != nil {
		return err
	}
	if err := r.GET("/stats", api.stats, router.Name("stats")); err != nil {
		return err
	}
	if err := r.Handle([]http.Method{http.MethodGet}, "/events", api.broker.Handler(keepalive), router.Name("events")); err != nil {
		return err
	}

	v1 := r.Group("/api")
	if err := v1.GET("/notes", api.list, router.Name("notes")); err != nil {
		return err
	}
	if err := v1.POST("/notes", api.create); err != nil {
		return err
	}
	return v1.View("/notes/<id:uuid>", &noteView{api: api}, router.Name("note"))
}

func (api *notesAPI) health(ctx context.Context, req *http.Request) (*http.Response, error) {
	return http.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": core.Version,
		"clients": api.broker.ClientCount(),
	})
}

func (api *notesAPI) stats(ctx context.Context, req *http.Request) (*http.Response, error) {
	e := api.app.Engine()
	if e == nil {
		return nil, http.NewError(http.StatusServiceUnavailable, "server not running")
	}
	if strings.Contains(req.Header.Get("Accept"), "text/plain") {
		return http.Text(http.StatusOK, e.StatsText()), nil
	}
	return http.JSON(http.StatusOK, e.Stats())
}

// list supports ?title= (exact match), ?sort=created|-created|title|-title
// and ?limit=n.
func (api *notesAPI) list(ctx context.Context, req *http.Request) (*http.Response, error) {
	filter := store.Filter{}
	if title := req.Query.Get("title"); title != "" {
		filter["title"] = title
	}
	var order []store.Order
	if s := req.Query.Get("sort"); s != "" {
		field := strings.TrimPrefix(s, "-")
		if field != "created" && field != "updated" && field != "title" {
			return nil, http.Errorf(http.StatusBadRequest, "cannot sort by %q", field)
		}
		order = append(order, store.Order{Field: field, Desc: strings.HasPrefix(s, "-")})
	}
	limit := 0
	if s := req.Query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, http.NewError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	recs, err := api.store.Query(ctx, noteKind, filter, order, limit)
	if err != nil {
		return nil, err
	}
	notes := make([]note, len(recs))
	for i, rec := range recs {
		notes[i] = noteFrom(rec)
	}
	return http.JSON(http.StatusOK, map[string]any{"notes": notes, "count": len(notes)})
}

func (api *notesAPI) create(ctx context.Context, req *http.Request) (*http.Response, error) {
	in, err := decodeNote(ctx, req)
	if err != nil {
		return nil, err
	}
	rec, err := api.store.Create(ctx, noteKind, in.fields())
	if err != nil {
		return nil, err
	}
	n := noteFrom(rec)
	api.announce(ctx, "note.created", n)

	resp, err := http.JSON(http.StatusCreated, n)
	if err != nil {
		return nil, err
	}
	if loc, err := api.routes.URL("note", map[string]any{"id": n.ID}); err == nil {
		resp.Header.Set("Location", loc)
	}
	return resp, nil
}

func (api *notesAPI) announce(ctx context.Context, name string, payload any) {
	ev, err := sse.NewJSONEvent(name, payload)
	if err != nil {
		log := api.app.Logger()
		log.Warn().Err(err).Str("event", name).Msg("encode event")
		return
	}
	api.broker.Publish(ev)
}

func decodeNote(ctx context.Context, req *http.Request) (noteInput, error) {
	var in noteInput
	if err := req.DecodeJSON(ctx, &in); err != nil {
		return in, err
	}
	if err := validate.Struct(in); err != nil {
		return in, http.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return in, nil
}

// noteView handles a single note.
type noteView struct {
	api *notesAPI
}

func (v *noteView) load(ctx context.Context, req *http.Request) (*store.Record, error) {
	id, _ := req.Params.UUID("id")
	return v.api.store.Get(ctx, noteKind, store.Filter{"id": id.String()})
}

func (v *noteView) Get(ctx context.Context, req *http.Request) (*http.Response, error) {
	rec, err := v.load(ctx, req)
	if err != nil {
		return nil, err
	}
	return http.JSON(http.StatusOK, noteFrom(rec))
}

func (v *noteView) Put(ctx context.Context, req *http.Request) (*http.Response, error) {
	in, err := decodeNote(ctx, req)
	if err != nil {
		return nil, err
	}
	rec, err := v.load(ctx, req)
	if err != nil {
		return nil, err
	}
	rec.Fields = in.fields()
	if err := v.api.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	n := noteFrom(rec)
	v.api.announce(ctx, "note.updated", n)
	return http.JSON(http.StatusOK, n)
}

func (v *noteView) Delete(ctx context.Context, req *http.Request) (*http.Response, error) {
	rec, err := v.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := v.api.store.Delete(ctx, rec); err != nil {
		return nil, err
	}
	v.api.announce(ctx, "note.deleted", map[string]string{"id": rec.ID})
	return http.NoContent(), nil
}
