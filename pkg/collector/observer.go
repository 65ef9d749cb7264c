package collector

import "strings"

// Page describes the document shown after a navigation transition.
type Page struct {
	Title string
	Path  string
	URL   string
}

// Element is a node in the host UI tree, described just enough for click
// attribution. Parent links let the collector walk up to the nearest
// interactive ancestor the way in-page delegation would.
type Element struct {
	Tag    string // lowercase tag name, e.g. "a", "button", "div"
	Type   string // input type attribute, e.g. "submit"
	ID     string
	Class  string
	Text   string
	Href   string // links only
	Parent *Element
}

// Form describes a form at submission time.
type Form struct {
	ID     string
	Name   string
	Action string
}

// ErrorInfo describes an uncaught exception in the host application.
type ErrorInfo struct {
	Message string
	Source  string
	Line    int
	Column  int
	Stack   string
}

// interactive reports whether the element is a click target worth
// recording: a link, a button, or a button/submit input.
func (e *Element) interactive() bool {
	switch strings.ToLower(e.Tag) {
	case "a", "button":
		return true
	case "input":
		t := strings.ToLower(e.Type)
		return t == "button" || t == "submit"
	}
	return false
}

// closestInteractive walks the ancestor chain looking for an interactive
// element, returning nil when the click landed outside any.
func closestInteractive(e *Element) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur.interactive() {
			return cur
		}
	}
	return nil
}

// RouteChanged records a client-side navigation. Host applications call
// this from their router's transition hook; the collector never patches
// the host's navigation machinery.
func (c *Collector) RouteChanged(page Page) {
	defer c.guard("route_changed")()

	c.mu.Lock()
	c.referrerURL = c.pageURL
	c.mu.Unlock()

	c.maybeIdentifyFromURL(page.URL)
	c.TrackPageView(page)
}

// TrackPageView records a page view and makes the page the current page
// context for subsequent events. Unlike RouteChanged it does not advance
// the referrer chain, so it suits initial loads and manual re-records.
func (c *Collector) TrackPageView(page Page) {
	defer c.guard("page_view")()

	c.mu.Lock()
	c.pageURL = page.URL
	c.mu.Unlock()

	if !c.cfg.trackPageViews() {
		return
	}

	c.Track("page_view", map[string]any{
		"title": page.Title,
		"path":  page.Path,
		"url":   page.URL,
	})
}

// HandleClick records a click if it landed on (or inside) an interactive
// element. Clicks elsewhere are ignored.
func (c *Collector) HandleClick(target *Element) {
	defer c.guard("click")()
	if !c.cfg.trackClicks() || target == nil {
		return
	}

	el := closestInteractive(target)
	if el == nil {
		return
	}

	props := map[string]any{
		"element_type": strings.ToLower(el.Tag),
	}
	if el.ID != "" {
		props["element_id"] = el.ID
	}
	if el.Class != "" {
		props["element_class"] = el.Class
	}
	if el.Text != "" {
		props["element_text"] = el.Text
	}
	if strings.ToLower(el.Tag) == "a" && el.Href != "" {
		props["href"] = el.Href
	}

	c.Track("click", props)
}

// HandleFormSubmit records a form submission.
func (c *Collector) HandleFormSubmit(form Form) {
	defer c.guard("form_submit")()
	if !c.cfg.trackForms() {
		return
	}

	props := map[string]any{}
	if form.ID != "" {
		props["form_id"] = form.ID
	}
	if form.Name != "" {
		props["form_name"] = form.Name
	}
	if form.Action != "" {
		props["form_action"] = form.Action
	}

	c.Track("form_submit", props)
}

// CaptureError records an uncaught exception.
func (c *Collector) CaptureError(info ErrorInfo) {
	defer c.guard("error")()
	if !c.cfg.trackErrors() {
		return
	}

	props := map[string]any{
		"message": info.Message,
	}
	if info.Source != "" {
		props["source"] = info.Source
	}
	if info.Line > 0 {
		props["line"] = info.Line
	}
	if info.Column > 0 {
		props["column"] = info.Column
	}
	if info.Stack != "" {
		props["stack"] = info.Stack
	}

	c.Track("error", props)
}

// CaptureRejection records an unhandled asynchronous failure.
func (c *Collector) CaptureRejection(reason string) {
	defer c.guard("promise_rejection")()
	if !c.cfg.trackErrors() {
		return
	}
	if reason == "" {
		reason = "Promise rejected"
	}
	c.Track("promise_rejection", map[string]any{"message": reason})
}

// guard isolates a panic inside one observer handler so it cannot take
// down the host application or the other handlers.
func (c *Collector) guard(handler string) func() {
	return func() {
		if r := recover(); r != nil {
			c.logger.Warn("collector handler panicked", "handler", handler, "panic", r)
		}
	}
}
