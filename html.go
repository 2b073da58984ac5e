package main

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body{font-family:sans-serif;margin:1rem;}a{display:block;color:inherit;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body>%s</body></html>", body))

	return htmlBody.String()
}

// serveHomePage lists the active rooms as plain links. The actual
// estimation UI is expected to live in a separate client; these pages
// are navigation shells only.
func serveHomePage(cfg *Config, registry *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body strings.Builder
		body.WriteString("<h1>pokerbox</h1>")

		rooms := registry.List()
		if len(rooms) == 0 {
			body.WriteString("<p>No active rooms. Create one via POST /api/rooms.</p>")
		}
		for _, room := range rooms {
			// Room names are client-supplied and must never reach the
			// page unescaped.
			body.WriteString(fmt.Sprintf(
				`<a href="%s/room/%s">%s (%d players, %s)</a>`,
				cfg.prefix, room.ID, html.EscapeString(room.Name), room.PlayerCount, room.Status,
			))
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("pokerbox", body.String())))
	}
}

func serveRoomPage(cfg *Config, registry *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := registry.Get(ps.ByName("roomid"))
		if !ok {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Not Found", "<p>No such room.</p>")))
			return
		}

		summary := room.Summary()
		body := fmt.Sprintf(
			`<h1>%s</h1><p>%d players, %s</p><img src="%s/room/%s/qr" alt="Share QR" width="320" height="320">`,
			html.EscapeString(summary.Name), summary.PlayerCount, summary.Status, cfg.prefix, summary.ID,
		)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage(summary.Name, body)))
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: *
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
