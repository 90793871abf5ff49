package httputil

import (
	"log"
	"net/http"
	"strconv"
)

// NoStore marks the response as uncacheable by browsers, proxies and mail
// client image caches.
func NoStore(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// GIF writes a 200 image/gif response that must not be cached.
func GIF(w http.ResponseWriter, data []byte) {
	NoStore(w)
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[httputil] image write error: %v", err)
	}
}
