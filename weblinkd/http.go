package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	weblink "github.com/duke1swd/weblinkGo/library"
)

const commandTimeout = 5 * time.Second

// panelView is what the HTTP front end needs from a Panel.
type panelView interface {
	State() weblink.State
	Description() string
	View() []weblink.Row
	Logs() []weblink.LogEntry
	Submit(ctx context.Context, cmd weblink.Command) error
}

type pageData struct {
	Description string
	State       string
	Rows        []weblink.Row
	Logs        []weblink.LogEntry
	Filter      weblink.LogFilter
}

type handler struct {
	panel panelView
	tmpl  *template.Template
	log   zerolog.Logger

	mu     sync.Mutex
	filter weblink.LogFilter // last submitted, to refill the form
}

func newHandler(p panelView, log zerolog.Logger) http.Handler {
	h := &handler{
		panel: p,
		tmpl: template.Must(template.New("page").Funcs(template.FuncMap{
			"isHeader": func(r weblink.Row) bool { return r.Kind == weblink.RowHeader },
			"isToggle": func(r weblink.Row) bool { return r.Editor == weblink.EditorToggle },
		}).Parse(pageTemplate)),
		log: log.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("POST /commit", h.commit)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /log", h.setFilter)
	mux.HandleFunc("POST /log/refresh", h.fetchLog)

	return mux
}

func (h *handler) index(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	filter := h.filter
	h.mu.Unlock()

	page := pageData{
		Description: h.panel.Description(),
		State:       h.panel.State().String(),
		Rows:        h.panel.View(),
		Logs:        h.panel.Logs(),
		Filter:      filter,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, page); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *handler) commit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, weblink.Command{
		Kind:  weblink.CommandCommit,
		Key:   r.PostFormValue("key"),
		Value: r.PostFormValue("value"),
	})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, weblink.Command{Kind: weblink.CommandRefresh, Key: r.PostFormValue("key")})
}

func (h *handler) setFilter(w http.ResponseWriter, r *http.Request) {
	filter := weblink.LogFilter{
		URN:      r.PostFormValue("urn"),
		Category: r.PostFormValue("category"),
		Time:     r.PostFormValue("time"),
		Message:  r.PostFormValue("message"),
	}

	h.mu.Lock()
	h.filter = filter
	h.mu.Unlock()

	h.submit(w, r, weblink.Command{Kind: weblink.CommandSetFilter, Filter: filter})
}

func (h *handler) fetchLog(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, weblink.Command{Kind: weblink.CommandFetchLog})
}

// submit runs cmd on the panel and sends the browser back to the table.
// Replies arrive asynchronously, so the page shows them on a later load.
func (h *handler) submit(w http.ResponseWriter, r *http.Request, cmd weblink.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := h.panel.Submit(ctx, cmd); err != nil {
		status := statusFor(err)
		h.log.Warn().Err(err).Str("key", cmd.Key).Int("status", status).Msg("Command failed")
		http.Error(w, err.Error(), status)

		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, weblink.ErrUnknownNode), errors.Is(err, weblink.ErrUnknownProperty):
		return http.StatusNotFound
	case errors.Is(err, weblink.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	return http.StatusBadRequest
}

const pageTemplate = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Description}}{{.Description}}{{else}}HODCP{{end}}</title>
<style>
body { font-family: sans-serif; margin: 1em 2em; }
table { border-collapse: collapse; }
td, th { padding: 2px 8px; text-align: left; }
tr.header th { background: #ddd; }
.updated1 { background: #eef8ee; }
.updated2 { background: #eeeef8; }
.type { color: #777; }
</style>
</head>
<body>
<h1>{{.Description}}</h1>
<p class="state">Session: {{.State}}</p>
<table class="nodes">
{{- range .Rows}}
{{- if isHeader .}}
<tr class="header"><th colspan="4" title="{{.Node}}">{{.Title}}</th></tr>
{{- else}}
<tr>
<td>{{.Title}}</td>
<td>
<form method="post" action="/commit">
<input type="hidden" name="key" value="{{.Key}}">
<input type="text" name="value" value="{{.Value}}" class="{{.Class}}"{{if .ReadOnly}} readonly{{end}}>
<button type="submit">{{.Editor.Label}}</button>
</form>
</td>
<td class="type">{{.TypeLabel}}</td>
<td>
<form method="post" action="/refresh">
<input type="hidden" name="key" value="{{.Key}}">
<button type="submit">Refresh</button>
</form>
</td>
</tr>
{{- end}}
{{- end}}
</table>

<h2>Log</h2>
<form method="post" action="/log">
<input type="text" name="urn" placeholder="urn" value="{{.Filter.URN}}">
<input type="text" name="category" placeholder="category" value="{{.Filter.Category}}">
<input type="text" name="time" placeholder="time" value="{{.Filter.Time}}">
<input type="text" name="message" placeholder="message" value="{{.Filter.Message}}">
<button type="submit">Filter</button>
</form>
<form method="post" action="/log/refresh"><button type="submit">Refresh log</button></form>
<table class="log">
<tr><th>Time</th><th>URN</th><th>Category</th><th>Message</th></tr>
{{- range .Logs}}
<tr><td>{{.Timestamp}}</td><td>{{.URN}}</td><td>{{.Category}}</td><td>{{.Msg}}</td></tr>
{{- end}}
</table>
</body>
</html>
`
