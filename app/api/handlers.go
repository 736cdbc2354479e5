package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/family-comb/app/cluster"
	"github.com/lysyi3m/family-comb/app/geocode"
	"github.com/lysyi3m/family-comb/app/ingest"
	"github.com/lysyi3m/family-comb/app/listing"
	"github.com/lysyi3m/family-comb/app/search"
)

const defaultIngestTimeout = 10 * time.Minute

func NewHandler(deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.IngestTimeout <= 0 {
		deps.IngestTimeout = defaultIngestTimeout
	}
	return &Handler{deps: deps}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	health := map[string]any{
		"status":    "ok",
		"version":   h.deps.Version,
		"timestamp": time.Now().In(h.deps.Location).Format(time.RFC3339),
	}

	if h.deps.Feeds != nil {
		if feedCount, err := h.deps.Feeds.GetFeedCount(ctx); err == nil {
			health["feeds"] = feedCount
		} else {
			health["status"] = "degraded"
			slog.Error("Database error", "operation", "get_feed_count", "error", err)
		}
	}
	if h.deps.Events != nil {
		if eventCount, err := h.deps.Events.GetEventCount(ctx); err == nil {
			health["events"] = eventCount
		}
	}
	if h.deps.Places != nil {
		if placeCount, err := h.deps.Places.GetPlaceCount(ctx); err == nil {
			health["places"] = placeCount
		}
	}
	if h.deps.Configs != nil {
		health["loaded_configurations"] = h.deps.Configs.GetConfigCount()
	}
	if h.deps.Cache != nil {
		health["cache"] = h.deps.Cache.Health(ctx)
	}
	if h.deps.Scheduler != nil {
		health["scheduler"] = h.deps.Scheduler.Status()
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) Search(c *gin.Context) {
	req := search.Request{
		Query:  c.Query("q"),
		Range:  c.Query("range"),
		Cursor: c.Query("cursor"),
	}

	var err error
	if req.Types, err = search.ParseTypes(c.Query("type")); err != nil {
		badRequest(c, err)
		return
	}
	if req.Start, err = h.parseTime(c.Query("start")); err != nil {
		badRequest(c, err)
		return
	}
	if req.End, err = h.parseTime(c.Query("end")); err != nil {
		badRequest(c, err)
		return
	}
	if raw := c.Query("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
			badRequest(c, errors.New("radius must be a positive number"))
			return
		}
		req.Radius = &radius
	}
	if raw := c.Query("limit"); raw != "" {
		if req.Limit, err = strconv.Atoi(raw); err != nil || req.Limit <= 0 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
	}

	resp, err := h.deps.Search.Search(c.Request.Context(), req)
	if err != nil {
		h.searchError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) searchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidRequest):
		badRequest(c, err)
	case errors.Is(err, search.ErrLocationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
	case errors.Is(err, search.ErrUnavailable):
		slog.Error("Search backend unavailable", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "search is temporarily unavailable"})
	default:
		slog.Error("Search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) Suggest(c *gin.Context) {
	bias, err := parseBias(c.Query("lat"), c.Query("lon"))
	if err != nil {
		badRequest(c, err)
		return
	}
	if bias == nil && h.deps.Locator != nil {
		bias = h.deps.Locator.Locate(c.ClientIP())
	}

	suggestions, err := h.deps.Suggest.Suggest(c.Request.Context(), c.Query("q"), bias)
	if err != nil {
		slog.Error("Suggest failed", "query", c.Query("q"), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "geocoding is temporarily unavailable"})
		return
	}
	if suggestions == nil {
		suggestions = []geocode.Location{}
	}

	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (h *Handler) GetClusters(c *gin.Context) {
	viewport, err := parseBBox(c.Query("bbox"))
	if err != nil {
		badRequest(c, err)
		return
	}
	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil || zoom < 0 || zoom > 22 {
		badRequest(c, errors.New("zoom must be an integer between 0 and 22"))
		return
	}

	result, err := h.deps.Clusters.Clusters(c.Request.Context(), cluster.Query{
		Viewport: viewport,
		Zoom:     zoom,
		Types:    c.Query("type"),
		Range:    c.Query("range"),
	})
	if err != nil {
		if errors.Is(err, search.ErrInvalidRequest) {
			badRequest(c, err)
			return
		}
		slog.Error("Clustering failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetEvent(c *gin.Context) {
	slug := c.Param("slug")

	ev, err := h.deps.Events.GetEventBySlug(c.Request.Context(), slug)
	if err != nil {
		slog.Error("Database error", "operation", "get_event", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, toEventResponse(ev))
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	stored, err := h.deps.Feeds.ListFeeds(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	feeds := make([]map[string]any, 0, len(stored))
	for _, f := range stored {
		feedInfo := map[string]any{
			"name":            f.Name,
			"label":           f.Label,
			"url":             f.URL,
			"active":          f.Active,
			"default_city":    f.DefaultCity,
			"default_state":   f.DefaultState,
			"max_items":       f.MaxItems,
			"extract_content": f.ExtractContent,
			"last_fetched_at": f.LastFetchedAt,
			"last_success_at": f.LastSuccessAt,
			"last_error":      f.LastError,
			"updated_at":      f.UpdatedAt,
			"filters":         0,
		}
		if h.deps.Configs != nil {
			if config, err := h.deps.Configs.GetConfig(f.Name); err == nil {
				feedInfo["filters"] = len(config.Filters)
			}
		}
		feeds = append(feeds, feedInfo)
	}

	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i]["name"].(string) < feeds[j]["name"].(string)
	})

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"count": len(feeds),
	})
}

// APIIngestAll runs every catalog job synchronously and returns the summary.
func (h *Handler) APIIngestAll(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deps.IngestTimeout)
	defer cancel()

	jobs, err := h.deps.Catalog.Jobs(ctx)
	if err != nil {
		slog.Error("Failed to build ingestion jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	summary := h.deps.Ingester.RunAll(ctx, jobs, ingest.Options{DryRun: dryRun})

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) APIIngestFeed(c *gin.Context) {
	var req ingestFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errors.New("body must be JSON with a url field"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deps.IngestTimeout)
	defer cancel()

	job, err := h.deps.Catalog.AdHocFeed(ctx, req.URL, req.City, req.State)
	if errors.Is(err, ingest.ErrInvalidFeed) {
		badRequest(c, err)
		return
	}
	if err != nil {
		slog.Error("Failed to build ad-hoc ingestion job", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	res := h.deps.Ingester.RunOne(ctx, job, ingest.Options{DryRun: req.DryRun})

	c.JSON(http.StatusOK, ingestFeedResponse{
		Name:        res.Name,
		State:       res.State,
		Fetched:     res.Fetched,
		Inserted:    res.Inserted,
		Updated:     res.Updated,
		Skipped:     res.Skipped,
		SkipReasons: res.SkipReasons,
		Errors:      res.Errors,
		DryRun:      req.DryRun,
	})
}

func (h *Handler) APIReclassify(c *gin.Context) {
	task := h.deps.Scheduler.NewReclassifyTask()
	if err := h.deps.Scheduler.EnqueueTask(task); err != nil {
		slog.Error("Failed to enqueue ReclassifyTask", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "queued",
		"task_id": task.GetID(),
	})
}

// parseTime accepts RFC 3339 timestamps or bare dates, which are taken as
// local midnight.
func (h *Handler) parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, h.deps.Location); err == nil {
		return &t, nil
	}
	return nil, errors.New("start and end must be RFC 3339 timestamps or YYYY-MM-DD dates")
}

func parseBias(lat, lon string) (*listing.Coordinates, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil || la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil, errors.New("lat and lon must be valid coordinates")
	}
	return &listing.Coordinates{Lat: la, Lon: lo}, nil
}

// parseBBox reads "west,south,east,north".
func parseBBox(raw string) (listing.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return listing.BBox{}, errors.New("bbox must be west,south,east,north")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return listing.BBox{}, errors.New("bbox must be west,south,east,north")
		}
		v[i] = f
	}
	box := listing.BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if !box.Valid() {
		return listing.BBox{}, errors.New("bbox is out of range or inverted")
	}
	return box, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
