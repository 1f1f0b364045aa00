package router

import (
	"context"
	"net/http"
)

// fetch performs one bounded network call and buffers the response.
func (r *Router) fetch(req *http.Request) (*CachedResponse, error) {
	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.NetworkTimeout)
	defer cancel()

	resp, err := r.transport.RoundTrip(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	snap, err := Snapshot(req, resp, r.now())
	if err != nil {
		return nil, err
	}
	if snap.Header.Get("Date") == "" {
		snap.Header.Set("Date", snap.StoredAt.UTC().Format(http.TimeFormat))
	}
	return snap, nil
}

// lookup treats partition errors as misses.
func (r *Router) lookup(partition string, req *http.Request) (*CachedResponse, bool) {
	p, err := r.store.Open(partition)
	if err != nil {
		r.logger.Warn().Err(err).Str("partition", partition).Msg("Partition unavailable, treating as miss")
		return nil, false
	}
	c, ok, err := p.Get(RequestKey(req))
	if err != nil {
		r.logger.Warn().Err(err).Str("partition", partition).Msg("Partition read failed, treating as miss")
		return nil, false
	}
	return c, ok
}

func (r *Router) put(partition string, req *http.Request, c *CachedResponse) {
	p, err := r.store.Open(partition)
	if err == nil {
		err = p.Put(RequestKey(req), c)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("partition", partition).Str("url", c.URL).Msg("Failed to store response")
		return
	}
	r.logger.Debug().Str("partition", partition).Str("url", c.URL).Msg("Stored response")
}

func serve(c *CachedResponse, req *http.Request, source string) *http.Response {
	resp := c.Response(req)
	resp.Header.Set(HeaderSource, source)
	return resp
}

func (r *Router) cacheFirst(req *http.Request) (*http.Response, error) {
	name := r.StaticName()
	if c, ok := r.lookup(name, req); ok {
		interceptsTotal.WithLabelValues(CacheFirst.String(), SourceCache).Inc()
		return serve(c, req, SourceCache), nil
	}

	c, err := r.fetch(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Static asset unavailable, serving offline placeholder")
		interceptsTotal.WithLabelValues(CacheFirst.String(), SourceOffline).Inc()
		return OfflineStatic(req, r.now()), nil
	}
	if isSuccess(c.StatusCode) {
		r.put(name, req, c)
	}
	interceptsTotal.WithLabelValues(CacheFirst.String(), SourceNetwork).Inc()
	return serve(c, req, SourceNetwork), nil
}

// networkFirst serves non-5xx network responses, caching only 2xx.
func (r *Router) networkFirst(req *http.Request) (*http.Response, error) {
	name := r.DynamicName()

	c, err := r.fetch(req)
	if err == nil && c.StatusCode < http.StatusInternalServerError {
		if isSuccess(c.StatusCode) {
			r.put(name, req, c)
		}
		interceptsTotal.WithLabelValues(NetworkFirst.String(), SourceNetwork).Inc()
		return serve(c, req, SourceNetwork), nil
	}

	ev := r.logger.Warn().Str("url", req.URL.String())
	if err != nil {
		ev = ev.Err(err)
	} else {
		ev = ev.Int("status", c.StatusCode)
	}
	ev.Msg("Network failed, falling back to cache")

	if cached, ok := r.lookup(name, req); ok {
		interceptsTotal.WithLabelValues(NetworkFirst.String(), SourceCache).Inc()
		return serve(cached, req, SourceCache), nil
	}
	interceptsTotal.WithLabelValues(NetworkFirst.String(), SourceOffline).Inc()
	return OfflineAPI(req, r.now()), nil
}

func (r *Router) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	name := r.DynamicName()

	if cached, ok := r.lookup(name, req); ok {
		r.revalidate(req)
		interceptsTotal.WithLabelValues(StaleWhileRevalidate.String(), SourceCache).Inc()
		return serve(cached, req, SourceCache), nil
	}

	c, err := r.fetch(req)
	if err != nil {
		if IsNavigation(req) {
			interceptsTotal.WithLabelValues(StaleWhileRevalidate.String(), SourceOffline).Inc()
			return OfflineDocument(req, r.now()), nil
		}
		interceptsTotal.WithLabelValues(StaleWhileRevalidate.String(), "error").Inc()
		return nil, err
	}
	if isSuccess(c.StatusCode) {
		r.put(name, req, c)
	}
	interceptsTotal.WithLabelValues(StaleWhileRevalidate.String(), SourceNetwork).Inc()
	return serve(c, req, SourceNetwork), nil
}

// revalidate refreshes the dynamic entry for req in the background. It
// races foreground writes for the same key; the last write wins.
func (r *Router) revalidate(req *http.Request) {
	if !r.refresh.Allow() {
		refreshesTotal.WithLabelValues("throttled").Inc()
		return
	}

	bg := req.Clone(context.WithoutCancel(req.Context()))
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		c, err := r.fetch(bg)
		if err != nil {
			refreshesTotal.WithLabelValues("failed").Inc()
			r.logger.Debug().Err(err).Str("url", bg.URL.String()).Msg("Background revalidation failed")
			return
		}
		if !isSuccess(c.StatusCode) {
			refreshesTotal.WithLabelValues("skipped").Inc()
			return
		}
		r.put(r.DynamicName(), bg, c)
		refreshesTotal.WithLabelValues("stored").Inc()
	}()
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
